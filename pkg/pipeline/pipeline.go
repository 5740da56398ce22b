// Package pipeline drives CT scans through the segmentation pipeline:
// stage a run directory, run the external segmenter into it, fuse the masks
// it wrote, and persist the combined label volume into the same directory.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sandmantan90/medical-image-segmentation/pkg/combine"
	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
	"github.com/sandmantan90/medical-image-segmentation/pkg/preview"
	"github.com/sandmantan90/medical-image-segmentation/pkg/segmenter"
	"github.com/sandmantan90/medical-image-segmentation/pkg/staging"
	"github.com/sandmantan90/medical-image-segmentation/pkg/volume"
)

// Pipeline stages, as reported by StageError.
const (
	StageStaging = "staging"
	StageSegment = "segmentation"
	StageCombine = "combination"
	StageSave    = "save"
)

// StageError tags a failure with the pipeline stage it came from and the
// scan that was being processed.
type StageError struct {
	Stage  string
	Source string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s of %s failed: %v", e.Stage, e.Source, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Params configures an Orchestrator.
type Params struct {
	// Stager creates the run directory for each scan.
	Stager *staging.Stager

	// Segmenter fills a run directory with per-structure masks.
	Segmenter segmenter.Segmenter

	// Purpose is the run name component describing why the scan was
	// processed. Empty means "segmentation".
	Purpose string

	// SavePreviews writes orthogonal PNG snapshots of each combined label
	// volume under {run dir}/preview.
	SavePreviews bool

	// Workers is the number of scans Batch processes concurrently.
	// Values below 1 mean sequential.
	Workers int
}

// Result describes one completed pipeline run.
type Result struct {
	Source       string
	RunDir       string
	CombinedPath string
	Labels       []combine.Label
	Volume       *volume.Volume
	Duration     time.Duration
}

// Orchestrator runs the per-scan pipeline.
type Orchestrator struct {
	params *Params
}

// New creates an orchestrator with the given parameters.
func New(params *Params) *Orchestrator {
	return &Orchestrator{params: params}
}

// ProcessOne runs the full pipeline for a single scan. Every failure is
// returned as a *StageError naming the stage that broke; nothing is written
// outside the scan's own run directory, and a failed run never leaves a
// partial combined volume behind.
func (o *Orchestrator) ProcessOne(ctx context.Context, scanPath string) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(scanPath); err != nil {
		return nil, &StageError{Stage: StageStaging, Source: scanPath, Err: err}
	}

	purpose := o.params.Purpose
	if purpose == "" {
		purpose = "segmentation"
	}

	fmt.Println("Step 1: Staging run directory...")
	runDir, err := o.params.Stager.Stage(scanPath, purpose)
	if err != nil {
		return nil, &StageError{Stage: StageStaging, Source: scanPath, Err: err}
	}
	fmt.Printf("Staged %s\n", runDir)

	fmt.Println("Step 2: Running external segmentation tool...")
	if err := o.params.Segmenter.Segment(ctx, scanPath, runDir); err != nil {
		return nil, &StageError{Stage: StageSegment, Source: scanPath, Err: err}
	}

	fmt.Println("Step 3: Combining masks into a label volume...")
	combined, err := combine.Dir(runDir)
	if err != nil {
		return nil, &StageError{Stage: StageCombine, Source: scanPath, Err: err}
	}
	fmt.Printf("Fused %d structure masks\n", len(combined.Labels))

	fmt.Println("Step 4: Saving combined label volume...")
	name := combine.CombinedPrefix + time.Now().Format("20060102_150405") + ".nii.gz"
	outPath := filepath.Join(runDir, name)
	if err := saveAtomic(combined.Volume, outPath); err != nil {
		return nil, &StageError{Stage: StageSave, Source: scanPath, Err: err}
	}

	if o.params.SavePreviews {
		if err := preview.WriteOrthogonal(combined.Volume, filepath.Join(runDir, "preview")); err != nil {
			fmt.Printf("Warning: Failed to save preview images: %v\n", err)
		}
	}

	return &Result{
		Source:       scanPath,
		RunDir:       runDir,
		CombinedPath: outPath,
		Labels:       combined.Labels,
		Volume:       combined.Volume,
		Duration:     time.Since(start),
	}, nil
}

// saveAtomic writes the label volume through a temporary file in the run
// directory and renames it into place, so a crash mid-write cannot leave a
// half-written combined volume that looks complete.
func saveAtomic(vol *volume.Volume, path string) error {
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	opts := &nifti.SaveOptions{Datatype: nifti.DTUint8}
	if err := nifti.Save(vol, tmp, opts); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming combined volume into place: %w", err)
	}
	return nil
}
