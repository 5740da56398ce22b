package experiment

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
	"github.com/sandmantan90/medical-image-segmentation/pkg/pipeline"
	"github.com/sandmantan90/medical-image-segmentation/pkg/segmenter"
	"github.com/sandmantan90/medical-image-segmentation/pkg/staging"
	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// makeBinary builds a volume with 1 at the listed voxels and 0 elsewhere.
func makeBinary(nx, ny, nz int, voxels [][3]int) *volume.Volume {
	vol := volume.New(nx, ny, nz)
	for _, v := range voxels {
		vol.Set(v[0], v[1], v[2], 1)
	}
	return vol
}

func TestDiceBoundaries(t *testing.T) {
	empty := volume.New(4, 4, 4)
	full := makeBinary(4, 4, 4, [][3]int{
		{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0},
		{0, 1, 0}, {1, 1, 0}, {2, 1, 0}, {3, 1, 0},
	})

	if d, err := Dice(empty, empty); err != nil || d != 1 {
		t.Errorf("Expected two empty volumes to score 1, got %v (err %v)", d, err)
	}

	d, err := Dice(full, full)
	if err != nil {
		t.Fatalf("Dice failed: %v", err)
	}
	if math.Abs(d-1) > 1e-6 {
		t.Errorf("Expected a volume against itself to score 1, got %v", d)
	}

	disjoint := makeBinary(4, 4, 4, [][3]int{{0, 0, 1}, {1, 0, 1}})
	if d, err := Dice(full, disjoint); err != nil || d != 0 {
		t.Errorf("Expected disjoint volumes to score 0, got %v (err %v)", d, err)
	}
}

func TestDicePartialOverlap(t *testing.T) {
	a := makeBinary(3, 3, 3, [][3]int{{0, 0, 0}, {1, 1, 1}})
	b := makeBinary(3, 3, 3, [][3]int{{1, 1, 1}, {2, 2, 2}})

	d, err := Dice(a, b)
	if err != nil {
		t.Fatalf("Dice failed: %v", err)
	}
	if math.Abs(d-0.5) > 1e-6 {
		t.Errorf("Expected one shared voxel of two each to score 0.5, got %v", d)
	}
}

// TestDiceForegroundThreshold confirms any positive voxel counts as
// foreground, not just exact ones.
func TestDiceForegroundThreshold(t *testing.T) {
	a := volume.New(2, 2, 2)
	a.Set(0, 0, 0, 7)
	b := makeBinary(2, 2, 2, [][3]int{{0, 0, 0}})

	d, err := Dice(a, b)
	if err != nil {
		t.Fatalf("Dice failed: %v", err)
	}
	if math.Abs(d-1) > 1e-6 {
		t.Errorf("Expected label values above 1 to count as foreground, got %v", d)
	}
}

func TestDiceDimensionMismatch(t *testing.T) {
	a := volume.New(2, 2, 2)
	b := volume.New(3, 2, 2)
	if _, err := Dice(a, b); err == nil {
		t.Fatal("Expected an error for mismatched dimensions")
	}
}

// maskWriter builds a fake segmenter that writes one 0/1 mask per entry
// into the run directory.
func maskWriter(nx, ny, nz int, masks map[string][][3]int) segmenter.Func {
	return func(ctx context.Context, scanPath, outDir string) error {
		for name, voxels := range masks {
			opts := &nifti.SaveOptions{Datatype: nifti.DTUint8}
			if err := nifti.Save(makeBinary(nx, ny, nz, voxels), filepath.Join(outDir, name), opts); err != nil {
				return err
			}
		}
		return nil
	}
}

// sweepFixture writes a scan and a matching ground truth, returning their
// paths plus a pipeline whose fake segmenter reproduces the truth exactly.
func sweepFixture(t *testing.T, seg segmenter.Segmenter) (scan, truth string, orch *pipeline.Orchestrator) {
	t.Helper()
	dir := t.TempDir()

	scanVol := volume.New(6, 6, 6)
	for i := range scanVol.Data {
		scanVol.Data[i] = 100
	}
	scan = filepath.Join(dir, "ct.nii.gz")
	if err := nifti.Save(scanVol, scan, nil); err != nil {
		t.Fatalf("Failed to write scan: %v", err)
	}

	truth = filepath.Join(dir, "truth.nii.gz")
	truthVol := makeBinary(6, 6, 6, [][3]int{{1, 1, 1}, {2, 2, 2}})
	if err := nifti.Save(truthVol, truth, &nifti.SaveOptions{Datatype: nifti.DTUint8}); err != nil {
		t.Fatalf("Failed to write ground truth: %v", err)
	}

	orch = pipeline.New(&pipeline.Params{
		Stager:    &staging.Stager{Root: t.TempDir(), Tool: "total"},
		Segmenter: seg,
		Purpose:   "experiment",
	})
	return scan, truth, orch
}

func TestRunnerSweep(t *testing.T) {
	seg := maskWriter(6, 6, 6, map[string][][3]int{
		"organ.nii.gz": {{1, 1, 1}, {2, 2, 2}},
	})
	scan, truth, orch := sweepFixture(t, seg)
	workDir := t.TempDir()

	runner := New(Params{
		Pipeline:  orch,
		TruthPath: truth,
		WorkDir:   workDir,
		SigmaMax:  3,
		Steps:     4,
	})

	points, err := runner.Run(context.Background(), scan)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("Expected 4 points, got %d", len(points))
	}
	for i, p := range points {
		if p.Sigma != float64(i) {
			t.Errorf("Expected point %d at sigma %d, got %v", i, i, p.Sigma)
		}
		if p.Dice < 0.999 {
			t.Errorf("Expected a perfect segmenter to score near 1 at sigma %v, got %v", p.Sigma, p.Dice)
		}
	}

	// Each sweep point leaves its degraded input behind for inspection.
	for i := range points {
		name := filepath.Join(workDir, "ct_blur_0"+strconv.Itoa(i)+".nii.gz")
		if _, err := os.Stat(name); err != nil {
			t.Errorf("Missing degraded input %q: %v", name, err)
		}
	}
}

func TestRunnerAbortsOnFailure(t *testing.T) {
	good := maskWriter(6, 6, 6, map[string][][3]int{
		"organ.nii.gz": {{1, 1, 1}},
	})
	calls := 0
	seg := segmenter.Func(func(ctx context.Context, scanPath, outDir string) error {
		calls++
		if calls == 3 {
			return errors.New("backend crashed")
		}
		return good(ctx, scanPath, outDir)
	})
	scan, truth, orch := sweepFixture(t, seg)

	runner := New(Params{
		Pipeline:  orch,
		TruthPath: truth,
		WorkDir:   t.TempDir(),
		SigmaMax:  3,
		Steps:     4,
	})

	points, err := runner.Run(context.Background(), scan)
	if err == nil {
		t.Fatal("Expected the sweep to abort on a failed point")
	}
	if len(points) != 2 {
		t.Fatalf("Expected the 2 points measured before the failure, got %d", len(points))
	}
}

func TestRunnerValidation(t *testing.T) {
	runner := New(Params{Steps: 1, SigmaMax: 3})
	if _, err := runner.Run(context.Background(), "ct.nii.gz"); err == nil {
		t.Error("Expected an error for a single-point sweep")
	}

	runner = New(Params{Steps: 4, SigmaMax: -1})
	if _, err := runner.Run(context.Background(), "ct.nii.gz"); err == nil {
		t.Error("Expected an error for a negative sigma range")
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curve.csv")
	points := []Point{{Sigma: 0, Dice: 1}, {Sigma: 1.5, Dice: 0.75}}
	if err := WriteCSV(points, path); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open the curve: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse the curve: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected a header and 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "sigma" || rows[0][1] != "dice" {
		t.Errorf("Unexpected header %v", rows[0])
	}
	for i, p := range points {
		sigma, _ := strconv.ParseFloat(rows[i+1][0], 64)
		dice, _ := strconv.ParseFloat(rows[i+1][1], 64)
		if sigma != p.Sigma || dice != p.Dice {
			t.Errorf("Row %d: got (%v,%v), want (%v,%v)", i+1, sigma, dice, p.Sigma, p.Dice)
		}
	}
}

func TestSummarize(t *testing.T) {
	if s := Summarize(nil); s != (Summary{}) {
		t.Errorf("Expected the zero summary for an empty curve, got %+v", s)
	}

	s := Summarize([]Point{
		{Sigma: 0, Dice: 0.9},
		{Sigma: 1, Dice: 0.5},
		{Sigma: 2, Dice: 0.7},
	})
	if math.Abs(s.Mean-0.7) > 1e-12 {
		t.Errorf("Expected mean 0.7, got %v", s.Mean)
	}
	if s.Min != 0.5 || s.Max != 0.9 {
		t.Errorf("Expected min 0.5 and max 0.9, got %v and %v", s.Min, s.Max)
	}
}
