package volume

import (
	"math"
	"testing"
)

func TestNewVolume(t *testing.T) {
	v := New(3, 4, 5)

	if nx, ny, nz := v.Dims(); nx != 3 || ny != 4 || nz != 5 {
		t.Errorf("Dims() = (%d, %d, %d), want (3, 4, 5)", nx, ny, nz)
	}
	if got, want := v.Len(), 60; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
	if got, want := len(v.Data), 60; got != want {
		t.Fatalf("len(Data) = %d, want %d", got, want)
	}
	for i, s := range v.Data {
		if s != 0 {
			t.Fatalf("Data[%d] = %v, want 0", i, s)
		}
	}
	if !v.Affine.Equal(IdentityAffine()) {
		t.Errorf("new volume affine = %v, want identity", v.Affine)
	}
}

func TestVolumeIndexLayout(t *testing.T) {
	v := New(3, 4, 5)

	tests := []struct {
		name    string
		x, y, z int
		want    int
	}{
		{"Origin", 0, 0, 0, 0},
		{"XFastest", 1, 0, 0, 1},
		{"YStride", 0, 1, 0, 3},
		{"ZStride", 0, 0, 1, 12},
		{"LastVoxel", 2, 3, 4, 59},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.Index(tc.x, tc.y, tc.z); got != tc.want {
				t.Errorf("Index(%d, %d, %d) = %d, want %d", tc.x, tc.y, tc.z, got, tc.want)
			}
		})
	}
}

func TestVolumeSetAt(t *testing.T) {
	v := New(2, 2, 2)
	v.Set(1, 0, 1, 7.5)

	if got := v.At(1, 0, 1); got != 7.5 {
		t.Errorf("At(1, 0, 1) = %v, want 7.5", got)
	}
	if got := v.Data[v.Index(1, 0, 1)]; got != 7.5 {
		t.Errorf("Data[Index(1, 0, 1)] = %v, want 7.5", got)
	}
}

func TestVolumeClone(t *testing.T) {
	v := New(2, 2, 1)
	v.Set(0, 1, 0, 3)
	v.Affine = ScaleAffine(2, 2, 2)

	c := v.Clone()
	if !c.SameGrid(v) {
		t.Fatalf("clone does not share the source grid")
	}
	if got := c.At(0, 1, 0); got != 3 {
		t.Errorf("clone At(0, 1, 0) = %v, want 3", got)
	}

	c.Set(0, 1, 0, 9)
	if got := v.At(0, 1, 0); got != 3 {
		t.Errorf("source At(0, 1, 0) = %v after mutating clone, want 3", got)
	}
}

func TestSameGrid(t *testing.T) {
	a := New(2, 3, 4)
	b := New(2, 3, 4)

	if !a.SameDims(b) || !a.SameGrid(b) {
		t.Fatalf("identical volumes reported as different grids")
	}

	b.Affine[0][3] = 5
	if !a.SameDims(b) {
		t.Errorf("SameDims() = false after affine change, want true")
	}
	if a.SameGrid(b) {
		t.Errorf("SameGrid() = true with differing affines, want false")
	}

	c := New(2, 3, 5)
	if a.SameDims(c) {
		t.Errorf("SameDims() = true for differing dimensions, want false")
	}
}

func TestVolumeMax(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		want float64
	}{
		{"Empty", nil, 0},
		{"AllNegative", []float64{-3, -1, -2}, -1},
		{"Mixed", []float64{0, 4.5, -2, 4.4}, 4.5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := &Volume{Data: tc.data, NX: len(tc.data), NY: 1, NZ: 1}
			if got := v.Max(); got != tc.want {
				t.Errorf("Max() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBinarize(t *testing.T) {
	v := New(2, 2, 1)
	v.Affine = ScaleAffine(3, 3, 3)
	v.Set(0, 0, 0, 0.5)
	v.Set(1, 0, 0, 0.51)
	v.Set(0, 1, 0, -1)
	v.Set(1, 1, 0, 2)

	b := v.Binarize(0.5)
	want := []float64{0, 1, 0, 1}
	for i, s := range b.Data {
		if s != want[i] {
			t.Errorf("Binarize Data[%d] = %v, want %v", i, s, want[i])
		}
	}
	if !b.Affine.Equal(v.Affine) {
		t.Errorf("Binarize affine = %v, want %v", b.Affine, v.Affine)
	}
	if got := v.At(0, 0, 0); got != 0.5 {
		t.Errorf("source At(0, 0, 0) = %v after Binarize, want 0.5", got)
	}
}

func TestCountNonzero(t *testing.T) {
	v := New(2, 2, 1)
	if got := v.CountNonzero(); got != 0 {
		t.Errorf("CountNonzero() = %d for zero volume, want 0", got)
	}

	v.Set(0, 0, 0, 0.001)
	v.Set(1, 1, 0, -5)
	if got := v.CountNonzero(); got != 1 {
		t.Errorf("CountNonzero() = %d, want 1 (negatives are background)", got)
	}
}

// applyAffine maps voxel indices through a homogeneous transform.
func applyAffine(a Affine, x, y, z float64) (px, py, pz float64) {
	px = a[0][0]*x + a[0][1]*y + a[0][2]*z + a[0][3]
	py = a[1][0]*x + a[1][1]*y + a[1][2]*z + a[1][3]
	pz = a[2][0]*x + a[2][1]*y + a[2][2]*z + a[2][3]
	return px, py, pz
}

func TestAffineMul(t *testing.T) {
	translate := IdentityAffine()
	translate[0][3] = 10
	translate[1][3] = -4
	scale := ScaleAffine(2, 3, 4)

	// translate*scale applies the scale first.
	m := translate.Mul(scale)
	px, py, pz := applyAffine(m, 1, 1, 1)
	if px != 12 || py != -1 || pz != 4 {
		t.Errorf("composed transform maps (1,1,1) to (%v, %v, %v), want (12, -1, 4)", px, py, pz)
	}

	if !IdentityAffine().Mul(scale).Equal(scale) {
		t.Errorf("identity composition changed the transform")
	}
}

func TestVoxelSizes(t *testing.T) {
	// 90-degree rotation about z with anisotropic spacing: column norms must
	// recover the spacing regardless of orientation.
	a := Affine{
		{0, -1.5, 0, 7},
		{0.5, 0, 0, -2},
		{0, 0, 3, 1},
		{0, 0, 0, 1},
	}
	sx, sy, sz := a.VoxelSizes()
	if math.Abs(sx-0.5) > 1e-12 || math.Abs(sy-1.5) > 1e-12 || math.Abs(sz-3) > 1e-12 {
		t.Errorf("VoxelSizes() = (%v, %v, %v), want (0.5, 1.5, 3)", sx, sy, sz)
	}
}

func TestFlipAffine(t *testing.T) {
	// Reversing an axis of length n must read old index n-1-i and, composed
	// with the source affine, keep every voxel at its physical position.
	f := FlipAffine(1, 5)
	for i := 0.0; i < 5; i++ {
		_, py, _ := applyAffine(f, 0, i, 0)
		if py != 4-i {
			t.Errorf("flip maps y=%v to %v, want %v", i, py, 4-i)
		}
	}

	src := ScaleAffine(1, 2, 1)
	src[1][3] = -8
	flipped := src.Mul(f)
	for i := 0.0; i < 5; i++ {
		_, want, _ := applyAffine(src, 0, 4-i, 0)
		_, got, _ := applyAffine(flipped, 0, i, 0)
		if got != want {
			t.Errorf("flipped affine maps y=%v to %v, want %v", i, got, want)
		}
	}
}

func TestScaleAffine(t *testing.T) {
	src := ScaleAffine(1, 1, 2)
	scaled := src.Mul(ScaleAffine(2, 1, 1))

	sx, sy, sz := scaled.VoxelSizes()
	if sx != 2 || sy != 1 || sz != 2 {
		t.Errorf("scaled VoxelSizes() = (%v, %v, %v), want (2, 1, 2)", sx, sy, sz)
	}
}
