// Package preview renders quick-look PNG snapshots of label volumes so a
// run directory can be sanity-checked without a medical image viewer.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// palette maps each label value to a fixed color. Index 0 (background) is
// black; the rest walk the hue circle by the golden angle, which keeps
// consecutive labels far apart in hue.
var palette [256]color.RGBA

func init() {
	palette[0] = color.RGBA{0, 0, 0, 255}
	for i := 1; i < len(palette); i++ {
		hue := math.Mod(float64(i)*137.508, 360)
		palette[i] = hsvToRGB(hue, 0.8, 1.0)
	}
}

func hsvToRGB(h, s, v float64) color.RGBA {
	c := v * s
	hp := h / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))

	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	m := v - c
	return color.RGBA{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
		A: 255,
	}
}

// ExtractSlice extracts a label-colored 2D slice from the volume along the
// specified axis.
func ExtractSlice(vol *volume.Volume, axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.RGBA

	switch axis {
	case "x", "X":
		// Sagittal: YZ plane
		if position >= vol.NX {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.NX)
		}
		img = image.NewRGBA(image.Rect(0, 0, vol.NY, vol.NZ))
		for z := 0; z < vol.NZ; z++ {
			for y := 0; y < vol.NY; y++ {
				img.SetRGBA(y, z, labelColor(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// Coronal: XZ plane
		if position >= vol.NY {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.NY)
		}
		img = image.NewRGBA(image.Rect(0, 0, vol.NX, vol.NZ))
		for z := 0; z < vol.NZ; z++ {
			for x := 0; x < vol.NX; x++ {
				img.SetRGBA(x, z, labelColor(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// Axial: XY plane
		if position >= vol.NZ {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.NZ)
		}
		img = image.NewRGBA(image.Rect(0, 0, vol.NX, vol.NY))
		for y := 0; y < vol.NY; y++ {
			for x := 0; x < vol.NX; x++ {
				img.SetRGBA(x, y, labelColor(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

func labelColor(v float64) color.RGBA {
	label := int(v)
	if label < 0 {
		label = 0
	}
	if label > 255 {
		label = 255
	}
	return palette[label]
}

// WriteOrthogonal writes the three central orthogonal slices of a label
// volume as axial.png, coronal.png and sagittal.png under dir, each scaled
// up 2x with nearest-neighbor so label boundaries stay crisp.
func WriteOrthogonal(vol *volume.Volume, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating preview directory: %w", err)
	}

	views := []struct {
		axis     string
		position int
		name     string
	}{
		{"z", vol.NZ / 2, "axial.png"},
		{"y", vol.NY / 2, "coronal.png"},
		{"x", vol.NX / 2, "sagittal.png"},
	}

	for _, view := range views {
		img, err := ExtractSlice(vol, view.axis, view.position)
		if err != nil {
			return err
		}
		if err := savePNG(scale2x(img), filepath.Join(dir, view.name)); err != nil {
			return err
		}
	}
	return nil
}

func scale2x(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*2, b.Dy()*2))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func savePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}
