package augment

import (
	"fmt"
	"math"

	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// Downsample resamples the volume by the given per-axis scale factors using
// trilinear interpolation. Axes shrunk below 1:1 are Gaussian-smoothed
// first so fine structure does not alias into the coarser grid. The affine
// is rescaled so the result occupies the same physical space with larger
// voxels.
func Downsample(vol *volume.Volume, sx, sy, sz float64) (*volume.Volume, error) {
	scales := [3]float64{sx, sy, sz}
	for axis, s := range scales {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("scale %v for axis %d out of range", s, axis)
		}
	}

	src := vol
	for axis, s := range scales {
		if s < 1 {
			// skimage-style anti-aliasing sigma for the shrink factor.
			src = blurAxis(src, (1/s-1)/2, axis)
		}
	}

	nx, ny, nz := vol.Dims()
	newNX := scaledDim(nx, sx)
	newNY := scaledDim(ny, sy)
	newNZ := scaledDim(nz, sz)

	out := volume.New(newNX, newNY, newNZ)
	out.Affine = vol.Affine.Mul(volume.ScaleAffine(1/sx, 1/sy, 1/sz))

	for z := 0; z < newNZ; z++ {
		fz := float64(z) / sz
		for y := 0; y < newNY; y++ {
			fy := float64(y) / sy
			for x := 0; x < newNX; x++ {
				fx := float64(x) / sx
				out.Set(x, y, z, sampleTrilinear(src, fx, fy, fz))
			}
		}
	}
	return out, nil
}

func scaledDim(n int, s float64) int {
	scaled := int(math.Round(float64(n) * s))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// sampleTrilinear interpolates the sample at a fractional voxel coordinate,
// clamping to the volume bounds.
func sampleTrilinear(v *volume.Volume, fx, fy, fz float64) float64 {
	nx, ny, nz := v.Dims()

	x0 := clampIndex(int(math.Floor(fx)), nx)
	y0 := clampIndex(int(math.Floor(fy)), ny)
	z0 := clampIndex(int(math.Floor(fz)), nz)
	x1 := clampIndex(x0+1, nx)
	y1 := clampIndex(y0+1, ny)
	z1 := clampIndex(z0+1, nz)

	wx := clampWeight(fx - float64(x0))
	wy := clampWeight(fy - float64(y0))
	wz := clampWeight(fz - float64(z0))

	c00 := v.At(x0, y0, z0)*(1-wx) + v.At(x1, y0, z0)*wx
	c10 := v.At(x0, y1, z0)*(1-wx) + v.At(x1, y1, z0)*wx
	c01 := v.At(x0, y0, z1)*(1-wx) + v.At(x1, y0, z1)*wx
	c11 := v.At(x0, y1, z1)*(1-wx) + v.At(x1, y1, z1)*wx

	c0 := c00*(1-wy) + c10*wy
	c1 := c01*(1-wy) + c11*wy

	return c0*(1-wz) + c1*wz
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
