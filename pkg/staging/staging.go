// Package staging creates the timestamped run directories that hold
// per-scan pipeline output.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
)

// timestampLayout matches the run names produced by earlier tooling, so
// output from old and new runs sorts together.
const timestampLayout = "20060102_150405"

// maxCollisions bounds the suffix search when sibling runs already exist.
const maxCollisions = 1000

// Stager builds run directory names of the form
//
//	{tool}_{parent}_{stem}_{purpose}_{timestamp}
//
// where parent is the name of the directory holding the input scan and stem
// is the scan filename without its volume extension. A scan
// /data/patient7/ct.nii.gz staged for purpose "segmentation" with tool
// "total" becomes total_patient7_ct_segmentation_20250102_030405.
type Stager struct {
	// Root is the directory run directories are created under. When empty,
	// runs are staged next to the input scan.
	Root string

	// Tool is the leading name component, typically the segmentation task.
	Tool string

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// ToolTag derives a run-name tool component from an external command: the
// executable's base name, lowercased, with any extension stripped.
func ToolTag(command string) string {
	name := filepath.Base(command)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.ToLower(name)
}

// RunName returns the directory name a Stage call would use, without
// creating anything. Empty name components are dropped rather than leaving
// doubled underscores behind.
func (s *Stager) RunName(scanPath, purpose string) string {
	parent := filepath.Base(filepath.Dir(scanPath))
	if parent == "." || parent == string(filepath.Separator) {
		parent = ""
	}
	stem := nifti.Stem(filepath.Base(scanPath))

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	parts := make([]string, 0, 5)
	for _, p := range []string{s.Tool, parent, stem, purpose, now().Format(timestampLayout)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "_")
}

// Stage creates a fresh run directory for the given scan and returns its
// path. The directory is created with os.Mkdir so an existing directory is
// never silently reused; when two runs collide on the same name within one
// clock second, the later ones get _1, _2, ... appended.
func (s *Stager) Stage(scanPath, purpose string) (string, error) {
	root := s.Root
	if root == "" {
		root = filepath.Dir(scanPath)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("creating output root: %w", err)
	}

	base := filepath.Join(root, s.RunName(scanPath, purpose))
	for i := 0; ; i++ {
		path := base
		if i > 0 {
			path = fmt.Sprintf("%s_%d", base, i)
		}
		err := os.Mkdir(path, 0755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		if i >= maxCollisions {
			return "", fmt.Errorf("creating run directory: %d runs named %s already exist", i, filepath.Base(base))
		}
	}
}
