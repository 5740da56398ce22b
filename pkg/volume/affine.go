package volume

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 4x4 homogeneous transform mapping voxel indices to physical
// coordinates, stored row-major.
type Affine [4][4]float64

// IdentityAffine returns the identity transform (1mm isotropic voxels at the
// origin).
func IdentityAffine() Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		a[i][i] = 1
	}
	return a
}

// Equal reports exact value equality of two affines. Masks produced by one
// segmentation run share a grid byte-for-byte, so no tolerance is applied.
func (a Affine) Equal(b Affine) bool {
	return a == b
}

// Mul returns the composition a*b, applying b first.
func (a Affine) Mul(b Affine) Affine {
	var out mat.Dense
	out.Mul(a.dense(), b.dense())
	return fromDense(&out)
}

// VoxelSizes returns the physical extent of one voxel along each axis,
// computed as the Euclidean norm of the corresponding affine column.
func (a Affine) VoxelSizes() (sx, sy, sz float64) {
	norm := func(col int) float64 {
		return math.Sqrt(a[0][col]*a[0][col] + a[1][col]*a[1][col] + a[2][col]*a[2][col])
	}
	return norm(0), norm(1), norm(2)
}

func (a Affine) dense() *mat.Dense {
	d := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			d.Set(i, j, a[i][j])
		}
	}
	return d
}

func fromDense(d *mat.Dense) Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = d.At(i, j)
		}
	}
	return a
}

// FlipAffine returns the index remapping transform for reversing the given
// axis of a grid with n voxels along it: new index i reads old index n-1-i.
// Composing src.Affine.Mul(FlipAffine(axis, n)) keeps the flipped volume at
// its original physical location.
func FlipAffine(axis, n int) Affine {
	f := IdentityAffine()
	f[axis][axis] = -1
	f[axis][3] = float64(n - 1)
	return f
}

// ScaleAffine returns a transform that scales voxel indices by the given
// per-axis factors. Composing src.Affine.Mul(ScaleAffine(...)) widens the
// voxel spacing of a resampled grid so physical geometry is preserved.
func ScaleAffine(sx, sy, sz float64) Affine {
	s := IdentityAffine()
	s[0][0] = sx
	s[1][1] = sy
	s[2][2] = sz
	return s
}
