// Package volume defines the dense volumetric image model shared by every
// stage of the segmentation pipeline: a 3D array of voxel samples plus the
// 4x4 affine transform that maps voxel indices to physical coordinates.
package volume

// Volume represents a dense 3D image together with its spatial transform.
type Volume struct {
	// Data holds the voxel samples in x-fastest order, matching the NIfTI
	// on-disk layout: Data[x + NX*(y + NY*z)].
	Data []float64

	// NX, NY, NZ are the grid dimensions in voxels.
	NX, NY, NZ int

	// Affine maps voxel indices (x, y, z, 1) to physical coordinates.
	Affine Affine
}

// New allocates a zero-filled volume with the given dimensions and an
// identity affine.
func New(nx, ny, nz int) *Volume {
	return &Volume{
		Data:   make([]float64, nx*ny*nz),
		NX:     nx,
		NY:     ny,
		NZ:     nz,
		Affine: IdentityAffine(),
	}
}

// Dims returns the grid dimensions in voxels.
func (v *Volume) Dims() (nx, ny, nz int) {
	return v.NX, v.NY, v.NZ
}

// Len returns the total number of voxels.
func (v *Volume) Len() int {
	return v.NX * v.NY * v.NZ
}

// Index converts voxel coordinates to the flat Data index.
func (v *Volume) Index(x, y, z int) int {
	return x + v.NX*(y+v.NY*z)
}

// At returns the sample at the given voxel coordinates.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a sample at the given voxel coordinates.
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{
		Data:   data,
		NX:     v.NX,
		NY:     v.NY,
		NZ:     v.NZ,
		Affine: v.Affine,
	}
}

// SameDims reports whether two volumes share identical grid dimensions.
func (v *Volume) SameDims(other *Volume) bool {
	return v.NX == other.NX && v.NY == other.NY && v.NZ == other.NZ
}

// SameGrid reports whether two volumes share both dimensions and affine,
// i.e. sample exactly the same physical grid.
func (v *Volume) SameGrid(other *Volume) bool {
	return v.SameDims(other) && v.Affine.Equal(other.Affine)
}

// Max returns the largest sample value, or 0 for an empty volume.
func (v *Volume) Max() float64 {
	if len(v.Data) == 0 {
		return 0
	}
	max := v.Data[0]
	for _, s := range v.Data[1:] {
		if s > max {
			max = s
		}
	}
	return max
}

// Binarize returns a new volume where every sample above threshold becomes 1
// and everything else becomes 0. The affine is carried over unchanged.
func (v *Volume) Binarize(threshold float64) *Volume {
	out := &Volume{
		Data:   make([]float64, len(v.Data)),
		NX:     v.NX,
		NY:     v.NY,
		NZ:     v.NZ,
		Affine: v.Affine,
	}
	for i, s := range v.Data {
		if s > threshold {
			out.Data[i] = 1
		}
	}
	return out
}

// CountNonzero returns the number of foreground voxels (samples > 0).
func (v *Volume) CountNonzero() int {
	n := 0
	for _, s := range v.Data {
		if s > 0 {
			n++
		}
	}
	return n
}
