package augment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// Bundle parameters, matching the robustness study protocol: mild noise,
// sigma-2 blur, half-resolution sampling to simulate fewer detector rows.
const (
	bundleNoiseStdDev = 0.05
	bundleBlurSigma   = 2
	bundleScale       = 0.5

	// bundleBlurAxis is the axis the directional blur runs along; the
	// output keeps the established _blurred_SI name.
	bundleBlurAxis = 1
)

// AugmentSet loads a scan and writes the standard augmentation bundle
// (noisy, directionally blurred, fully blurred and downsampled copies)
// under {stem}_augmented/ in outDir. It returns the written paths. Each
// variant is built and saved in turn, so peak memory stays at two volumes
// no matter how large the scan.
func AugmentSet(scanPath, outDir string, seed uint64) ([]string, error) {
	vol, err := nifti.Load(scanPath)
	if err != nil {
		return nil, err
	}

	stem := nifti.Stem(filepath.Base(scanPath))
	dir := filepath.Join(outDir, stem+"_augmented")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating augmentation directory: %w", err)
	}

	variants := []struct {
		name  string
		build func() (*volume.Volume, error)
	}{
		{stem + "_noisy.nii.gz", func() (*volume.Volume, error) {
			return AddGaussianNoise(vol, 0, bundleNoiseStdDev, seed), nil
		}},
		{stem + "_blurred_SI.nii.gz", func() (*volume.Volume, error) {
			return GaussianBlurAxes(vol, bundleBlurSigma, bundleBlurAxis)
		}},
		{stem + "_blurred_all.nii.gz", func() (*volume.Volume, error) {
			return GaussianBlur(vol, bundleBlurSigma), nil
		}},
		{stem + "_downsampled.nii.gz", func() (*volume.Volume, error) {
			return Downsample(vol, bundleScale, 1, 1)
		}},
	}

	written := make([]string, 0, len(variants))
	for _, variant := range variants {
		augmented, err := variant.build()
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, variant.name)
		if err := nifti.Save(augmented, path, nil); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// WriteFlipSet loads a volume and writes its seven axis flips as
// {stem}_flip_x.nii.gz through {stem}_flip_xyz.nii.gz under outDir,
// returning the written paths.
func WriteFlipSet(path, outDir string) ([]string, error) {
	vol, err := nifti.Load(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating flip directory: %w", err)
	}

	stem := nifti.Stem(filepath.Base(path))
	written := make([]string, 0, 7)
	for _, variant := range FlipSet(vol) {
		out := filepath.Join(outDir, fmt.Sprintf("%s_%s.nii.gz", stem, variant.Name))
		if err := nifti.Save(variant.Volume, out, nil); err != nil {
			return written, err
		}
		written = append(written, out)
	}
	return written, nil
}
