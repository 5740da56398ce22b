// Package nifti implements reading and writing of NIfTI-1 volumetric images,
// the container format used for CT volumes and segmentation masks throughout
// this pipeline. Only the voxel array and the affine transform are
// interpreted; header metadata beyond geometry is passed over.
package nifti

import (
	"errors"
	"strings"
)

// Common errors
var (
	// ErrNotNIfTI marks files that are not a readable single-file NIfTI-1
	// container (bad magic, malformed header, unsupported layout).
	ErrNotNIfTI = errors.New("not a NIfTI-1 file")

	// ErrUnsupportedDatatype marks voxel datatypes this package cannot decode.
	ErrUnsupportedDatatype = errors.New("unsupported NIfTI datatype")
)

// Voxel datatype codes from the NIfTI-1 standard.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

const (
	headerSize = 348
	// dataOffset is where voxel data starts in files we write: the header,
	// followed by the four-byte extension flag.
	dataOffset = 352
)

// volumeSuffixes lists the recognized volumetric-image filename suffixes, in
// match order (the compressed form must be tested first).
var volumeSuffixes = []string{".nii.gz", ".nii"}

// IsVolumeFile reports whether a filename carries a recognized
// volumetric-image suffix. The check is case-insensitive since datasets
// frequently originate on case-preserving filesystems.
func IsVolumeFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range volumeSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// Stem returns the filename with its volumetric suffix removed, stripping the
// compound ".nii.gz" as a whole. Non-volumetric names are returned unchanged.
func Stem(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range volumeSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}

// nifti1Header mirrors the 348-byte NIfTI-1 header layout. Field order and
// widths must not change; encoding/binary reads and writes it packed.
type nifti1Header struct {
	SizeofHdr     int32
	DataTypeName  [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// bitpixFor returns the storage width in bits for a datatype code, or 0 if
// the code is not supported.
func bitpixFor(datatype int16) int16 {
	switch datatype {
	case DTUint8, DTInt8:
		return 8
	case DTInt16, DTUint16:
		return 16
	case DTInt32, DTUint32, DTFloat32:
		return 32
	case DTFloat64:
		return 64
	}
	return 0
}
