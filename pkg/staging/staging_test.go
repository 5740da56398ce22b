package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fixedClock pins the timestamp so run names are predictable.
func fixedClock() time.Time {
	return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestRunName(t *testing.T) {
	cases := []struct {
		name     string
		stager   Stager
		scanPath string
		purpose  string
		want     string
	}{
		{
			name:     "FullPath",
			stager:   Stager{Tool: "total", Now: fixedClock},
			scanPath: "/data/patient7/ct.nii.gz",
			purpose:  "segmentation",
			want:     "total_patient7_ct_segmentation_20250102_030405",
		},
		{
			name:     "PlainNii",
			stager:   Stager{Tool: "total", Now: fixedClock},
			scanPath: "/data/patient7/ct.nii",
			purpose:  "experiment",
			want:     "total_patient7_ct_experiment_20250102_030405",
		},
		{
			name:     "BareFilename",
			stager:   Stager{Tool: "total", Now: fixedClock},
			scanPath: "ct.nii.gz",
			purpose:  "segmentation",
			want:     "total_ct_segmentation_20250102_030405",
		},
		{
			name:     "NoTool",
			stager:   Stager{Now: fixedClock},
			scanPath: "/data/patient7/ct.nii.gz",
			purpose:  "segmentation",
			want:     "patient7_ct_segmentation_20250102_030405",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.stager.RunName(tc.scanPath, tc.purpose); got != tc.want {
				t.Errorf("Expected run name %q, got %q", tc.want, got)
			}
		})
	}
}

func TestToolTag(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{command: "TotalSegmentator", want: "totalsegmentator"},
		{command: "/opt/conda/bin/TotalSegmentator", want: "totalsegmentator"},
		{command: "segtool.exe", want: "segtool"},
	}
	for _, tc := range cases {
		if got := ToolTag(tc.command); got != tc.want {
			t.Errorf("ToolTag(%q): expected %q, got %q", tc.command, tc.want, got)
		}
	}
}

func TestStageCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	s := &Stager{Root: root, Tool: "total", Now: fixedClock}

	dir, err := s.Stage("/data/patient7/ct.nii.gz", "segmentation")
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	want := filepath.Join(root, "total_patient7_ct_segmentation_20250102_030405")
	if dir != want {
		t.Errorf("Expected path %q, got %q", want, dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Run directory was not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("Expected a directory at %s", dir)
	}
}

func TestStageNextToInput(t *testing.T) {
	scanDir := t.TempDir()
	scanPath := filepath.Join(scanDir, "ct.nii.gz")
	if err := os.WriteFile(scanPath, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write scan file: %v", err)
	}

	s := &Stager{Tool: "total", Now: fixedClock} // no Root: stage beside the scan
	dir, err := s.Stage(scanPath, "segmentation")
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if filepath.Dir(dir) != scanDir {
		t.Errorf("Expected run directory inside %s, got %s", scanDir, dir)
	}
}

func TestStageCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out", "runs")
	s := &Stager{Root: root, Tool: "total", Now: fixedClock}

	dir, err := s.Stage("/data/patient7/ct.nii.gz", "segmentation")
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Run directory was not created under nested root: %v", err)
	}
}

// TestStageCollisions pins the clock so repeated stagings of the same scan
// land on the same base name and must fall back to numeric suffixes.
func TestStageCollisions(t *testing.T) {
	root := t.TempDir()
	s := &Stager{Root: root, Tool: "total", Now: fixedClock}

	want := []string{
		"total_patient7_ct_segmentation_20250102_030405",
		"total_patient7_ct_segmentation_20250102_030405_1",
		"total_patient7_ct_segmentation_20250102_030405_2",
	}
	for i, name := range want {
		dir, err := s.Stage("/data/patient7/ct.nii.gz", "segmentation")
		if err != nil {
			t.Fatalf("Stage %d failed: %v", i, err)
		}
		if filepath.Base(dir) != name {
			t.Errorf("Stage %d: expected directory %q, got %q", i, name, filepath.Base(dir))
		}
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("Stage %d: directory missing: %v", i, err)
		}
	}
}
