package augment

import (
	"fmt"

	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// Flip reverses the volume along the listed axes (0 = x, 1 = y, 2 = z).
// The affine is composed with the matching index flips, so every voxel
// keeps its physical position and downstream tools see consistent geometry.
// Listing an axis twice cancels out.
func Flip(vol *volume.Volume, axes ...int) (*volume.Volume, error) {
	for _, axis := range axes {
		if axis < 0 || axis > 2 {
			return nil, fmt.Errorf("flip axis %d out of range", axis)
		}
	}
	return flip(vol, axes), nil
}

func flip(vol *volume.Volume, axes []int) *volume.Volume {
	var flipped [3]bool
	for _, axis := range axes {
		flipped[axis] = !flipped[axis]
	}

	nx, ny, nz := vol.Dims()
	out := volume.New(nx, ny, nz)

	out.Affine = vol.Affine
	dims := [3]int{nx, ny, nz}
	for axis, f := range flipped {
		if f {
			out.Affine = out.Affine.Mul(volume.FlipAffine(axis, dims[axis]))
		}
	}

	for z := 0; z < nz; z++ {
		sz := z
		if flipped[2] {
			sz = nz - 1 - z
		}
		for y := 0; y < ny; y++ {
			sy := y
			if flipped[1] {
				sy = ny - 1 - y
			}
			for x := 0; x < nx; x++ {
				sx := x
				if flipped[0] {
					sx = nx - 1 - x
				}
				out.Set(x, y, z, vol.At(sx, sy, sz))
			}
		}
	}
	return out
}

// FlipVariant pairs a flipped volume with the name suffix it is saved
// under.
type FlipVariant struct {
	Name   string
	Volume *volume.Volume
}

// FlipSet returns the seven single and combined axis flips of a volume,
// named flip_x through flip_xyz.
func FlipSet(vol *volume.Volume) []FlipVariant {
	combos := []struct {
		name string
		axes []int
	}{
		{"flip_x", []int{0}},
		{"flip_y", []int{1}},
		{"flip_z", []int{2}},
		{"flip_xy", []int{0, 1}},
		{"flip_xz", []int{0, 2}},
		{"flip_yz", []int{1, 2}},
		{"flip_xyz", []int{0, 1, 2}},
	}

	variants := make([]FlipVariant, 0, len(combos))
	for _, combo := range combos {
		variants = append(variants, FlipVariant{
			Name:   combo.name,
			Volume: flip(vol, combo.axes),
		})
	}
	return variants
}
