// Package dcmvol ingests a DICOM series directory as a single volume, so
// raw scanner output can enter the same pipeline as NIfTI scans.
package dcmvol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

var (
	// ErrNoSlices means the directory holds no recognizable DICOM files.
	ErrNoSlices = errors.New("no DICOM slices found")

	// ErrMixedSeries means the directory mixes more than one series.
	ErrMixedSeries = errors.New("directory holds more than one series")

	// ErrUnevenSpacing means the slices do not form a regular grid along
	// the scan axis.
	ErrUnevenSpacing = errors.New("uneven slice spacing")
)

// sliceData is one parsed slice before assembly into a volume.
type sliceData struct {
	path      string
	series    string
	instance  int
	rows      int
	cols      int
	position  [3]float64 // ImagePositionPatient, LPS millimeters
	orient    [6]float64 // ImageOrientationPatient row and column cosines
	spacing   [2]float64 // PixelSpacing: between rows, between columns
	thickness float64
	samples   []float64 // rescaled values, row-major
}

// LoadSeries reads every DICOM slice in dir and assembles them into one
// volume. The slices must belong to a single series on a shared pixel grid;
// they are ordered by their position along the slice normal, with
// InstanceNumber as the tiebreak, so file naming does not matter. Stored
// values are mapped through RescaleSlope and RescaleIntercept, and the
// affine is derived from the patient geometry tags, converted from DICOM's
// LPS convention to the RAS convention NIfTI files use.
func LoadSeries(dir string) (*volume.Volume, error) {
	files, err := listSeriesFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("reading series directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSlices)
	}

	slices := make([]sliceData, 0, len(files))
	for _, path := range files {
		s, err := parseSlice(path)
		if err != nil {
			return nil, err
		}
		if len(slices) > 0 && s.series != slices[0].series {
			return nil, fmt.Errorf("%s: %w", dir, ErrMixedSeries)
		}
		slices = append(slices, s)
	}

	ref := slices[0]
	for _, s := range slices[1:] {
		if s.rows != ref.rows || s.cols != ref.cols {
			return nil, fmt.Errorf("%s: slice grid %dx%d does not match %dx%d",
				s.path, s.cols, s.rows, ref.cols, ref.rows)
		}
		if !almostEqual6(s.orient, ref.orient) {
			return nil, fmt.Errorf("%s: slice orientation differs from the first slice", s.path)
		}
		if !almostEqual2(s.spacing, ref.spacing) {
			return nil, fmt.Errorf("%s: pixel spacing differs from the first slice", s.path)
		}
	}

	sortSlices(slices)
	if err := validateSpacing(slices); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}

	nx, ny, nz := ref.cols, ref.rows, len(slices)
	vol := volume.New(nx, ny, nz)
	for z, s := range slices {
		base := z * nx * ny
		copy(vol.Data[base:base+nx*ny], s.samples)
	}
	vol.Affine = seriesAffine(slices)
	return vol, nil
}

// SeriesVolumePath returns where ConvertSeries writes the NIfTI copy of a
// series directory: next to the directory, named after it.
func SeriesVolumePath(dir string) string {
	clean := filepath.Clean(dir)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+".nii.gz")
}

// ConvertSeries loads a DICOM series and saves it as a NIfTI volume next to
// the series directory, returning the written path.
func ConvertSeries(dir string) (string, error) {
	vol, err := LoadSeries(dir)
	if err != nil {
		return "", err
	}
	out := SeriesVolumePath(dir)
	if err := nifti.Save(vol, out, nil); err != nil {
		return "", err
	}
	return out, nil
}

// listSeriesFiles returns the DICOM candidates in dir sorted by name:
// .dcm files plus extensionless files carrying the DICM marker.
func listSeriesFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		switch {
		case strings.EqualFold(filepath.Ext(entry.Name()), ".dcm"):
			files = append(files, path)
		case filepath.Ext(entry.Name()) == "":
			if hasDICMPreamble(path) {
				files = append(files, path)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// hasDICMPreamble reports whether the file starts with the 128-byte
// preamble followed by the DICM marker.
func hasDICMPreamble(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var header [132]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return false
	}
	return string(header[128:]) == "DICM"
}

func parseSlice(path string) (sliceData, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return sliceData{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	s := sliceData{path: path, thickness: 1}

	series, ok := stringValue(ds, tag.SeriesInstanceUID)
	if !ok {
		return sliceData{}, fmt.Errorf("%s: missing SeriesInstanceUID", path)
	}
	s.series = series

	s.rows, ok = intValue(ds, tag.Rows)
	if !ok {
		return sliceData{}, fmt.Errorf("%s: missing Rows", path)
	}
	s.cols, ok = intValue(ds, tag.Columns)
	if !ok {
		return sliceData{}, fmt.Errorf("%s: missing Columns", path)
	}

	position, ok := floatsValue(ds, tag.ImagePositionPatient, 3)
	if !ok {
		return sliceData{}, fmt.Errorf("%s: missing ImagePositionPatient", path)
	}
	copy(s.position[:], position)

	orient, ok := floatsValue(ds, tag.ImageOrientationPatient, 6)
	if !ok {
		return sliceData{}, fmt.Errorf("%s: missing ImageOrientationPatient", path)
	}
	copy(s.orient[:], orient)

	spacing, ok := floatsValue(ds, tag.PixelSpacing, 2)
	if !ok {
		return sliceData{}, fmt.Errorf("%s: missing PixelSpacing", path)
	}
	copy(s.spacing[:], spacing)

	if t, ok := floatValue(ds, tag.SliceThickness); ok && t > 0 {
		s.thickness = t
	}
	if raw, ok := stringValue(ds, tag.InstanceNumber); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			s.instance = n
		}
	}

	slope := 1.0
	if v, ok := floatValue(ds, tag.RescaleSlope); ok {
		slope = v
	}
	intercept := 0.0
	if v, ok := floatValue(ds, tag.RescaleIntercept); ok {
		intercept = v
	}

	signed := false
	if v, ok := intValue(ds, tag.PixelRepresentation); ok && v == 1 {
		signed = true
	}
	bits := 16
	if v, ok := intValue(ds, tag.BitsAllocated); ok {
		bits = v
	}

	pixelEl, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return sliceData{}, fmt.Errorf("%s: missing PixelData", path)
	}
	info := dicom.MustGetPixelDataInfo(pixelEl.Value)
	if len(info.Frames) != 1 {
		return sliceData{}, fmt.Errorf("%s: expected a single frame, got %d", path, len(info.Frames))
	}
	native, err := info.Frames[0].GetNativeFrame()
	if err != nil {
		return sliceData{}, fmt.Errorf("%s: %w", path, err)
	}
	if got, want := len(native.Data), s.rows*s.cols; got != want {
		return sliceData{}, fmt.Errorf("%s: %d pixels do not fill a %dx%d slice", path, got, s.cols, s.rows)
	}

	s.samples = make([]float64, len(native.Data))
	for i := range native.Data {
		raw := native.Data[i][0]
		if signed {
			// Stored as two's complement; reinterpret the bit pattern.
			if bits == 8 {
				raw = int(int8(uint8(raw)))
			} else {
				raw = int(int16(uint16(raw)))
			}
		}
		s.samples[i] = slope*float64(raw) + intercept
	}
	return s, nil
}

func stringValue(ds dicom.Dataset, t tag.Tag) (string, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return "", false
	}
	vals := dicom.MustGetStrings(el.Value)
	if len(vals) == 0 {
		return "", false
	}
	return strings.TrimSpace(vals[0]), true
}

func intValue(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	vals := dicom.MustGetInts(el.Value)
	if len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// floatValue reads a single decimal-string value.
func floatValue(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	raw, ok := stringValue(ds, t)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// floatsValue reads a multi-valued decimal string of exactly n components.
func floatsValue(ds dicom.Dataset, t tag.Tag, n int) ([]float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	raw := dicom.MustGetStrings(el.Value)
	if len(raw) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, s := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
