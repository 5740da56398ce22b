package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// SaveOptions controls how a volume is encoded on disk.
type SaveOptions struct {
	// Datatype selects the stored voxel type. The zero value means float32.
	// Label volumes should be saved as DTUint8.
	Datatype int16

	// Descrip is copied into the header's free-text field (truncated to 79
	// bytes).
	Descrip string
}

// Save writes vol to path as a single-file NIfTI-1 image. A ".gz" suffix
// selects gzip compression. The destination is created or overwritten; the
// volume itself is never mutated, and its affine is stored verbatim in the
// sform rows.
func Save(vol *volume.Volume, path string, opts *SaveOptions) error {
	datatype := DTFloat32
	descrip := ""
	if opts != nil {
		if opts.Datatype != 0 {
			datatype = opts.Datatype
		}
		descrip = opts.Descrip
	}
	switch datatype {
	case DTUint8, DTInt16, DTFloat32, DTFloat64:
	default:
		return fmt.Errorf("saving %s: %w: code %d", path, ErrUnsupportedDatatype, datatype)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating volume file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	bw := bufio.NewWriter(w)
	if err := writeVolume(bw, vol, datatype, descrip); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func writeVolume(w io.Writer, vol *volume.Volume, datatype int16, descrip string) error {
	hdr := headerFor(vol, datatype, descrip)
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	// Extension flag: no extensions present.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	return encodeSamples(w, vol.Data, datatype)
}

func headerFor(vol *volume.Volume, datatype int16, descrip string) *nifti1Header {
	hdr := &nifti1Header{
		SizeofHdr: headerSize,
		Datatype:  datatype,
		Bitpix:    bitpixFor(datatype),
		VoxOffset: dataOffset,
		SclSlope:  1,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	hdr.Dim[1] = int16(vol.NX)
	hdr.Dim[2] = int16(vol.NY)
	hdr.Dim[3] = int16(vol.NZ)
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}

	sx, sy, sz := vol.Affine.VoxelSizes()
	hdr.Pixdim[0] = 1
	hdr.Pixdim[1] = float32(sx)
	hdr.Pixdim[2] = float32(sy)
	hdr.Pixdim[3] = float32(sz)

	for j := 0; j < 4; j++ {
		hdr.SrowX[j] = float32(vol.Affine[0][j])
		hdr.SrowY[j] = float32(vol.Affine[1][j])
		hdr.SrowZ[j] = float32(vol.Affine[2][j])
	}

	copy(hdr.Descrip[:len(hdr.Descrip)-1], descrip)
	return hdr
}

func encodeSamples(w io.Writer, data []float64, datatype int16) error {
	buf := make([]byte, 8)
	for _, s := range data {
		var chunk []byte
		switch datatype {
		case DTUint8:
			buf[0] = byte(clampRound(s, 0, 255))
			chunk = buf[:1]
		case DTInt16:
			binary.LittleEndian.PutUint16(buf, uint16(int16(clampRound(s, math.MinInt16, math.MaxInt16))))
			chunk = buf[:2]
		case DTFloat32:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(s)))
			chunk = buf[:4]
		case DTFloat64:
			binary.LittleEndian.PutUint64(buf, math.Float64bits(s))
			chunk = buf[:8]
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func clampRound(s, lo, hi float64) float64 {
	s = math.Round(s)
	if s < lo {
		return lo
	}
	if s > hi {
		return hi
	}
	return s
}
