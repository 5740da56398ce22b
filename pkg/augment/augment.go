// Package augment implements the volume perturbations used by robustness
// experiments: additive Gaussian noise, directional and full Gaussian blur,
// trilinear downsampling and axis flips. Every transform leaves its input
// untouched and returns a new volume.
package augment

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// noiseScale weights the additive noise relative to the volume's maximum
// intensity, so the same stddev perturbs scans of any dynamic range
// comparably.
const noiseScale = 0.5

// AddGaussianNoise returns vol plus normally distributed noise scaled by
// half the volume's maximum value. The same seed always produces the same
// noise field.
func AddGaussianNoise(vol *volume.Volume, mean, stddev float64, seed uint64) *volume.Volume {
	dist := distuv.Normal{Mu: mean, Sigma: stddev, Src: rand.NewSource(seed)}
	scale := noiseScale * vol.Max()

	out := vol.Clone()
	for i := range out.Data {
		out.Data[i] += scale * dist.Rand()
	}
	return out
}

// GaussianBlur blurs all three axes with the given sigma. Sigma values at
// or below zero return an unmodified copy.
func GaussianBlur(vol *volume.Volume, sigma float64) *volume.Volume {
	out, _ := GaussianBlurAxes(vol, sigma, 0, 1, 2)
	return out
}

// GaussianBlurAxes blurs only the listed axes (0 = x, 1 = y, 2 = z) with a
// separable 1D Gaussian. The kernel radius is ceil(4*sigma) and edges are
// padded with the nearest sample.
func GaussianBlurAxes(vol *volume.Volume, sigma float64, axes ...int) (*volume.Volume, error) {
	for _, axis := range axes {
		if axis < 0 || axis > 2 {
			return nil, fmt.Errorf("blur axis %d out of range", axis)
		}
	}
	if sigma <= 0 {
		return vol.Clone(), nil
	}

	out := vol
	for _, axis := range axes {
		out = blurAxis(out, sigma, axis)
	}
	if out == vol {
		out = vol.Clone()
	}
	return out, nil
}

func blurAxis(src *volume.Volume, sigma float64, axis int) *volume.Volume {
	radius := int(math.Ceil(4 * sigma))
	kernel := gaussianKernel(sigma, radius)

	nx, ny, nz := src.Dims()
	dst := volume.New(nx, ny, nz)
	dst.Affine = src.Affine

	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				var sum float64
				for j := -radius; j <= radius; j++ {
					xx, yy, zz := x, y, z
					switch axis {
					case 0:
						xx = clampIndex(x+j, nx)
					case 1:
						yy = clampIndex(y+j, ny)
					case 2:
						zz = clampIndex(z+j, nz)
					}
					sum += kernel[j+radius] * src.At(xx, yy, zz)
				}
				dst.Set(x, y, z, sum)
			}
		}
	}
	return dst
}

// gaussianKernel returns the normalized sampled Gaussian of the given
// radius.
func gaussianKernel(sigma float64, radius int) []float64 {
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for j := -radius; j <= radius; j++ {
		w := math.Exp(-float64(j*j) / (2 * sigma * sigma))
		kernel[j+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
