package dcmvol

import (
	"fmt"
	"math"
	"sort"

	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// spacingTolerance is the accepted relative deviation between successive
// slice gaps. Scanners jitter positions by fractions of a millimeter;
// anything larger means dropped or duplicated slices.
const spacingTolerance = 0.01

// geometryEpsilon absorbs decimal-string rounding when comparing per-slice
// orientation and spacing values.
const geometryEpsilon = 1e-4

// normalFromOrientation returns the slice normal, the cross product of the
// row and column direction cosines.
func normalFromOrientation(orient [6]float64) [3]float64 {
	r := [3]float64{orient[0], orient[1], orient[2]}
	c := [3]float64{orient[3], orient[4], orient[5]}
	return cross(r, c)
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// sortSlices orders slices by the projection of their position onto the
// slice normal, so stacking order follows patient geometry rather than file
// names. Equal positions fall back to InstanceNumber.
func sortSlices(slices []sliceData) {
	if len(slices) < 2 {
		return
	}
	normal := normalFromOrientation(slices[0].orient)
	sort.SliceStable(slices, func(i, j int) bool {
		pi := dot(slices[i].position, normal)
		pj := dot(slices[j].position, normal)
		if pi != pj {
			return pi < pj
		}
		return slices[i].instance < slices[j].instance
	})
}

// validateSpacing checks that sorted slices sit on a regular grid along the
// normal: strictly increasing positions with gaps within spacingTolerance
// of their mean.
func validateSpacing(slices []sliceData) error {
	if len(slices) < 2 {
		return nil
	}
	normal := normalFromOrientation(slices[0].orient)

	deltas := make([]float64, len(slices)-1)
	mean := 0.0
	for i := range deltas {
		deltas[i] = dot(slices[i+1].position, normal) - dot(slices[i].position, normal)
		mean += deltas[i]
	}
	mean /= float64(len(deltas))
	if mean <= 0 {
		return fmt.Errorf("%w: slices do not advance along the normal", ErrUnevenSpacing)
	}

	for i, d := range deltas {
		if d <= 0 {
			return fmt.Errorf("%w: %s repeats the position of its neighbor",
				ErrUnevenSpacing, slices[i+1].path)
		}
		if math.Abs(d-mean)/mean > spacingTolerance {
			return fmt.Errorf("%w: gap before %s is %.4fmm, mean is %.4fmm",
				ErrUnevenSpacing, slices[i+1].path, d, mean)
		}
	}
	return nil
}

// seriesAffine builds the voxel-to-physical transform for sorted slices.
// Columns are the physical steps per voxel increment: the row cosines
// scaled by the between-columns spacing, the column cosines scaled by the
// between-rows spacing, and the inter-slice vector. DICOM coordinates are
// LPS; the x and y rows are negated to produce the RAS affine NIfTI
// expects.
func seriesAffine(slices []sliceData) volume.Affine {
	first := slices[0]

	var step [3]float64
	if n := len(slices); n > 1 {
		last := slices[n-1]
		for i := range step {
			step[i] = (last.position[i] - first.position[i]) / float64(n-1)
		}
	} else {
		normal := normalFromOrientation(first.orient)
		for i := range step {
			step[i] = normal[i] * first.thickness
		}
	}

	a := volume.IdentityAffine()
	for i := 0; i < 3; i++ {
		a[i][0] = first.orient[i] * first.spacing[1]
		a[i][1] = first.orient[3+i] * first.spacing[0]
		a[i][2] = step[i]
		a[i][3] = first.position[i]
	}
	for j := 0; j < 4; j++ {
		a[0][j] = -a[0][j]
		a[1][j] = -a[1][j]
	}
	return a
}

func almostEqual2(a, b [2]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > geometryEpsilon {
			return false
		}
	}
	return true
}

func almostEqual6(a, b [6]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > geometryEpsilon {
			return false
		}
	}
	return true
}
