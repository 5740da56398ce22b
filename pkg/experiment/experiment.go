// Package experiment measures how segmentation quality degrades as the
// input volume is blurred, producing a Dice-vs-sigma curve.
package experiment

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sandmantan90/medical-image-segmentation/pkg/augment"
	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
	"github.com/sandmantan90/medical-image-segmentation/pkg/pipeline"
	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

const (
	// binarizeThreshold separates foreground from background when label
	// volumes are reduced to binary masks for scoring.
	binarizeThreshold = 0.5

	// diceEpsilon keeps the Dice denominator nonzero.
	diceEpsilon = 1e-6
)

// Dice returns the Sørensen-Dice overlap of two volumes on the same grid,
// treating any voxel above zero as foreground. Two empty volumes score 1.0.
func Dice(a, b *volume.Volume) (float64, error) {
	if !a.SameDims(b) {
		ax, ay, az := a.Dims()
		bx, by, bz := b.Dims()
		return 0, fmt.Errorf("dice: dimensions %dx%dx%d and %dx%dx%d do not match",
			ax, ay, az, bx, by, bz)
	}

	countA := a.CountNonzero()
	countB := b.CountNonzero()
	if countA == 0 && countB == 0 {
		return 1, nil
	}

	intersect := 0
	for i := range a.Data {
		if a.Data[i] > 0 && b.Data[i] > 0 {
			intersect++
		}
	}
	return 2 * float64(intersect) / (float64(countA+countB) + diceEpsilon), nil
}

// Point is one sweep measurement.
type Point struct {
	Sigma float64
	Dice  float64
}

// Params configures a blur-robustness sweep.
type Params struct {
	// Pipeline runs each degraded volume through staging, segmentation
	// and combination.
	Pipeline *pipeline.Orchestrator

	// TruthPath is the ground-truth label volume the predictions are
	// scored against. It is loaded and binarized once per sweep.
	TruthPath string

	// WorkDir receives the degraded input volumes. Empty means next to
	// the input scan.
	WorkDir string

	// SigmaMax is the strongest blur tested. The sweep measures Steps
	// evenly spaced sigma values from 0 to SigmaMax inclusive, so the
	// first point is always the unblurred baseline.
	SigmaMax float64
	Steps    int
}

// Runner sweeps blur strength over one input scan.
type Runner struct {
	params Params
}

// New creates a sweep runner with the given parameters.
func New(params Params) *Runner {
	return &Runner{params: params}
}

// Run blurs the scan at each sweep point, pushes the blurred copy through
// the pipeline and scores the combined output against the ground truth.
// Points are returned in sweep order. A failed point aborts the sweep; the
// points measured before it are returned alongside the error.
func (r *Runner) Run(ctx context.Context, scanPath string) ([]Point, error) {
	if r.params.Steps < 2 {
		return nil, fmt.Errorf("blur sweep needs at least 2 points, got %d", r.params.Steps)
	}
	if r.params.SigmaMax < 0 {
		return nil, fmt.Errorf("blur sweep sigma maximum %v is negative", r.params.SigmaMax)
	}

	truth, err := nifti.Load(r.params.TruthPath)
	if err != nil {
		return nil, fmt.Errorf("loading ground truth: %w", err)
	}
	truthBin := truth.Binarize(binarizeThreshold)

	input, err := nifti.Load(scanPath)
	if err != nil {
		return nil, fmt.Errorf("loading input scan: %w", err)
	}

	workDir := r.params.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(scanPath)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("creating sweep directory: %w", err)
	}

	sigmas := make([]float64, r.params.Steps)
	floats.Span(sigmas, 0, r.params.SigmaMax)
	fmt.Printf("Running blur sweep: %d points from 0 to %.2f\n", len(sigmas), r.params.SigmaMax)

	stem := nifti.Stem(filepath.Base(scanPath))
	points := make([]Point, 0, len(sigmas))
	for i, sigma := range sigmas {
		if err := ctx.Err(); err != nil {
			return points, err
		}

		blurred := augment.GaussianBlur(input, sigma)
		blurredPath := filepath.Join(workDir, fmt.Sprintf("%s_blur_%02d.nii.gz", stem, i))
		if err := nifti.Save(blurred, blurredPath, nil); err != nil {
			return points, fmt.Errorf("sigma %.2f: %w", sigma, err)
		}

		result, err := r.params.Pipeline.ProcessOne(ctx, blurredPath)
		if err != nil {
			return points, fmt.Errorf("sigma %.2f: %w", sigma, err)
		}

		dice, err := Dice(truthBin, result.Volume.Binarize(binarizeThreshold))
		if err != nil {
			return points, fmt.Errorf("sigma %.2f: %w", sigma, err)
		}
		points = append(points, Point{Sigma: sigma, Dice: dice})
		fmt.Printf("Sigma: %.2f, Dice score: %.4f\n", sigma, dice)
	}
	return points, nil
}

// WriteCSV writes a curve as two-column CSV with a header row. The file is
// the exchange format for downstream plotting.
func WriteCSV(points []Point, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating curve file: %w", err)
	}

	rows := make([][]string, 0, len(points)+1)
	rows = append(rows, []string{"sigma", "dice"})
	for _, p := range points {
		rows = append(rows, []string{
			strconv.FormatFloat(p.Sigma, 'f', -1, 64),
			strconv.FormatFloat(p.Dice, 'f', -1, 64),
		})
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Summary holds descriptive statistics over the Dice values of a curve.
type Summary struct {
	Mean float64
	Min  float64
	Max  float64
}

// Summarize reduces a curve to summary statistics. An empty curve yields
// the zero Summary.
func Summarize(points []Point) Summary {
	if len(points) == 0 {
		return Summary{}
	}
	dice := make([]float64, len(points))
	for i, p := range points {
		dice[i] = p.Dice
	}
	return Summary{
		Mean: stat.Mean(dice, nil),
		Min:  floats.Min(dice),
		Max:  floats.Max(dice),
	}
}
