package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// Load reads a NIfTI-1 volume from path. Gzip compression is detected from
// the stream itself, so both .nii and .nii.gz files work regardless of their
// actual name. A missing file surfaces as an fs.ErrNotExist wrap; anything
// unparseable surfaces as an ErrNotNIfTI wrap.
func Load(path string) (*volume.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening volume: %w", err)
	}
	defer f.Close()

	vol, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

func read(r io.Reader) (*volume.Volume, error) {
	br := bufio.NewReader(r)

	// Sniff for gzip rather than trusting the filename.
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNIfTI, err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: bad gzip stream: %v", ErrNotNIfTI, err)
		}
		defer gz.Close()
		src = gz
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrNotNIfTI, err)
	}

	// The header announces its own byte order: sizeof_hdr must read as 348.
	order := byteOrderFor(raw)
	if order == nil {
		return nil, fmt.Errorf("%w: sizeof_hdr is not 348", ErrNotNIfTI)
	}

	var hdr nifti1Header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNIfTI, err)
	}
	if err := validateHeader(&hdr); err != nil {
		return nil, err
	}

	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])

	// Skip header extensions up to the voxel data.
	if skip := int64(hdr.VoxOffset) - headerSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, src, skip); err != nil {
			return nil, fmt.Errorf("%w: truncated extensions: %v", ErrNotNIfTI, err)
		}
	}

	sampleBytes := int(hdr.Bitpix) / 8
	buf := make([]byte, nx*ny*nz*sampleBytes)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated voxel data: %v", ErrNotNIfTI, err)
	}

	data, err := decodeSamples(buf, hdr.Datatype, order)
	if err != nil {
		return nil, err
	}
	applyScaling(data, hdr.SclSlope, hdr.SclInter)

	return &volume.Volume{
		Data:   data,
		NX:     nx,
		NY:     ny,
		NZ:     nz,
		Affine: affineFromHeader(&hdr),
	}, nil
}

// byteOrderFor determines the header byte order from the sizeof_hdr field,
// or returns nil when neither order yields 348.
func byteOrderFor(raw []byte) binary.ByteOrder {
	if binary.LittleEndian.Uint32(raw[:4]) == headerSize {
		return binary.LittleEndian
	}
	if binary.BigEndian.Uint32(raw[:4]) == headerSize {
		return binary.BigEndian
	}
	return nil
}

func validateHeader(hdr *nifti1Header) error {
	// Only the single-file form is produced by the tools this pipeline
	// orchestrates; the two-file "ni1" form is rejected.
	if hdr.Magic != [4]byte{'n', '+', '1', 0} {
		return fmt.Errorf("%w: magic %q", ErrNotNIfTI, hdr.Magic[:3])
	}

	ndim := int(hdr.Dim[0])
	switch {
	case ndim == 3:
	case ndim == 4 && hdr.Dim[4] <= 1:
		// A degenerate fourth dimension collapses to 3D.
	default:
		return fmt.Errorf("%w: %d-dimensional image", ErrNotNIfTI, ndim)
	}
	if hdr.Dim[1] < 1 || hdr.Dim[2] < 1 || hdr.Dim[3] < 1 {
		return fmt.Errorf("%w: degenerate dimensions %dx%dx%d",
			ErrNotNIfTI, hdr.Dim[1], hdr.Dim[2], hdr.Dim[3])
	}

	if want := bitpixFor(hdr.Datatype); want == 0 {
		return fmt.Errorf("%w: code %d", ErrUnsupportedDatatype, hdr.Datatype)
	} else if want != hdr.Bitpix {
		return fmt.Errorf("%w: datatype %d with bitpix %d", ErrNotNIfTI, hdr.Datatype, hdr.Bitpix)
	}

	if int64(hdr.VoxOffset) < headerSize {
		return fmt.Errorf("%w: vox_offset %v inside header", ErrNotNIfTI, hdr.VoxOffset)
	}
	return nil
}

// decodeSamples converts the raw voxel buffer to float64 samples.
func decodeSamples(buf []byte, datatype int16, order binary.ByteOrder) ([]float64, error) {
	width := int(bitpixFor(datatype)) / 8
	n := len(buf) / width
	data := make([]float64, n)

	switch datatype {
	case DTUint8:
		for i := 0; i < n; i++ {
			data[i] = float64(buf[i])
		}
	case DTInt8:
		for i := 0; i < n; i++ {
			data[i] = float64(int8(buf[i]))
		}
	case DTInt16:
		for i := 0; i < n; i++ {
			data[i] = float64(int16(order.Uint16(buf[i*2:])))
		}
	case DTUint16:
		for i := 0; i < n; i++ {
			data[i] = float64(order.Uint16(buf[i*2:]))
		}
	case DTInt32:
		for i := 0; i < n; i++ {
			data[i] = float64(int32(order.Uint32(buf[i*4:])))
		}
	case DTUint32:
		for i := 0; i < n; i++ {
			data[i] = float64(order.Uint32(buf[i*4:]))
		}
	case DTFloat32:
		for i := 0; i < n; i++ {
			data[i] = float64(math.Float32frombits(order.Uint32(buf[i*4:])))
		}
	case DTFloat64:
		for i := 0; i < n; i++ {
			data[i] = math.Float64frombits(order.Uint64(buf[i*8:]))
		}
	default:
		return nil, fmt.Errorf("%w: code %d", ErrUnsupportedDatatype, datatype)
	}
	return data, nil
}

// applyScaling applies the header's scl_slope/scl_inter calibration in place.
// A zero or NaN slope means "no scaling stored".
func applyScaling(data []float64, slope, inter float32) {
	s, c := float64(slope), float64(inter)
	if s == 0 || math.IsNaN(s) || (s == 1 && c == 0) {
		return
	}
	for i := range data {
		data[i] = data[i]*s + c
	}
}

// affineFromHeader selects the voxel-to-world transform the way nibabel does:
// sform when present, qform otherwise, and a bare pixdim spacing diagonal as
// the last resort.
func affineFromHeader(hdr *nifti1Header) volume.Affine {
	if hdr.SformCode > 0 {
		var a volume.Affine
		for j := 0; j < 4; j++ {
			a[0][j] = float64(hdr.SrowX[j])
			a[1][j] = float64(hdr.SrowY[j])
			a[2][j] = float64(hdr.SrowZ[j])
		}
		a[3][3] = 1
		return a
	}
	if hdr.QformCode > 0 {
		return qformAffine(hdr)
	}

	a := volume.IdentityAffine()
	a[0][0] = float64(hdr.Pixdim[1])
	a[1][1] = float64(hdr.Pixdim[2])
	a[2][2] = float64(hdr.Pixdim[3])
	return a
}

// qformAffine reconstructs the rotation from the stored quaternion per the
// NIfTI-1 standard (method 2).
func qformAffine(hdr *nifti1Header) volume.Affine {
	b := float64(hdr.QuaternB)
	c := float64(hdr.QuaternC)
	d := float64(hdr.QuaternD)
	a := 1 - b*b - c*c - d*d
	if a < 0 {
		a = 0
	}
	a = math.Sqrt(a)

	qfac := 1.0
	if hdr.Pixdim[0] < 0 {
		qfac = -1
	}
	sx, sy := float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2])
	sz := float64(hdr.Pixdim[3]) * qfac

	var m volume.Affine
	m[0][0] = (a*a + b*b - c*c - d*d) * sx
	m[0][1] = (2*b*c - 2*a*d) * sy
	m[0][2] = (2*b*d + 2*a*c) * sz
	m[1][0] = (2*b*c + 2*a*d) * sx
	m[1][1] = (a*a + c*c - b*b - d*d) * sy
	m[1][2] = (2*c*d - 2*a*b) * sz
	m[2][0] = (2*b*d - 2*a*c) * sx
	m[2][1] = (2*c*d + 2*a*b) * sy
	m[2][2] = (a*a + d*d - b*b - c*c) * sz
	m[0][3] = float64(hdr.QoffsetX)
	m[1][3] = float64(hdr.QoffsetY)
	m[2][3] = float64(hdr.QoffsetZ)
	m[3][3] = 1
	return m
}
