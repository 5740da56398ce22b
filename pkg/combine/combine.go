// Package combine fuses a directory of per-structure binary masks into a
// single label volume.
//
// Segmentation tools such as TotalSegmentator emit one mask file per anatomic
// structure, all on the grid of the source CT. Fusion assigns each structure a
// label from its position in the filename-sorted mask list (1-based, so label
// 0 stays background) and writes that label into every foreground voxel of the
// mask. Where masks overlap, the mask later in sort order wins, which makes
// the result a pure function of the file contents and names, independent of
// directory listing order.
package combine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// CombinedPrefix marks fused label volumes written back into a mask
// directory. List skips files carrying it so re-running a combine over the
// same directory never feeds an earlier output back in as a mask.
const CombinedPrefix = "_combined_"

var (
	// ErrEmptyMaskSet is returned when a combine finds no mask volumes to
	// fuse.
	ErrEmptyMaskSet = errors.New("no mask volumes to combine")

	// ErrTooManyMasks is returned when the mask count exceeds the uint8
	// label range.
	ErrTooManyMasks = errors.New("mask count exceeds uint8 label range")

	// ErrGridMismatch matches any *GridMismatchError via errors.Is, for
	// callers that do not care which file disagreed.
	ErrGridMismatch = errors.New("mask volumes disagree on voxel grid")
)

// GridMismatchError reports a mask whose voxel grid disagrees with the first
// mask in the set. All masks from one segmentation run share the grid of the
// source CT, so a mismatch means the directory mixes output from different
// scans.
type GridMismatchError struct {
	File           string
	WantDims       [3]int
	GotDims        [3]int
	AffineMismatch bool
}

func (e *GridMismatchError) Is(target error) bool { return target == ErrGridMismatch }

func (e *GridMismatchError) Error() string {
	if e.AffineMismatch {
		return fmt.Sprintf("%s: affine differs from first mask", e.File)
	}
	return fmt.Sprintf("%s: dimensions %dx%dx%d, want %dx%dx%d",
		e.File, e.GotDims[0], e.GotDims[1], e.GotDims[2],
		e.WantDims[0], e.WantDims[1], e.WantDims[2])
}

// Label maps one fused label value back to the mask it came from.
type Label struct {
	Value uint8
	Name  string // structure name, the mask filename without its extension
	File  string // mask filename
}

// Result is a fused label volume together with its label legend. Labels is
// ordered by value, so Labels[i].Value is always i+1.
type Result struct {
	Volume *volume.Volume
	Labels []Label
}

// List returns the mask filenames in dir, sorted. Non-volume files,
// subdirectories and previously combined outputs are skipped.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing masks: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !nifti.IsVolumeFile(name) || strings.HasPrefix(name, CombinedPrefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Dir fuses every mask volume in dir into a single label volume.
func Dir(dir string) (*Result, error) {
	names, err := List(dir)
	if err != nil {
		return nil, err
	}
	return Files(dir, names)
}

// Files fuses the named mask volumes under dir. The names are sorted before
// labels are assigned, so the caller's ordering does not influence the
// result. Masks are loaded one at a time to keep peak memory at two volumes
// regardless of how many structures the segmenter produced.
func Files(dir string, names []string) (*Result, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("combining masks in %s: %w", dir, ErrEmptyMaskSet)
	}
	if len(names) > math.MaxUint8 {
		return nil, fmt.Errorf("combining masks in %s: %d masks: %w", dir, len(names), ErrTooManyMasks)
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var out *volume.Volume
	labels := make([]Label, 0, len(sorted))
	for i, name := range sorted {
		mask, err := nifti.Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}

		if out == nil {
			out = volume.New(mask.NX, mask.NY, mask.NZ)
			out.Affine = mask.Affine
		} else if err := checkGrid(out, mask, name); err != nil {
			return nil, err
		}

		label := uint8(i + 1)
		paint(out, mask, label)
		labels = append(labels, Label{Value: label, Name: nifti.Stem(name), File: name})
	}

	return &Result{Volume: out, Labels: labels}, nil
}

func checkGrid(want, got *volume.Volume, file string) error {
	if !got.SameDims(want) {
		return &GridMismatchError{
			File:     file,
			WantDims: [3]int{want.NX, want.NY, want.NZ},
			GotDims:  [3]int{got.NX, got.NY, got.NZ},
		}
	}
	if !got.Affine.Equal(want.Affine) {
		return &GridMismatchError{
			File:           file,
			WantDims:       [3]int{want.NX, want.NY, want.NZ},
			GotDims:        [3]int{got.NX, got.NY, got.NZ},
			AffineMismatch: true,
		}
	}
	return nil
}

// paint writes label into dst wherever mask is foreground. Any value above
// zero counts as foreground, so probability maps and 0/255 masks fuse the
// same way 0/1 masks do.
func paint(dst, mask *volume.Volume, label uint8) {
	v := float64(label)
	for i, s := range mask.Data {
		if s > 0 {
			dst.Data[i] = v
		}
	}
}
