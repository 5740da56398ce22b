package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/sandmantan90/medical-image-segmentation/internal/logging"
)

// Outcome pairs one scan with its result or its error. Exactly one of
// Result and Err is set.
type Outcome struct {
	Source string
	Result *Result
	Err    error
}

// Batch runs the pipeline over every scan and reports one outcome per scan,
// in input order. A failing scan never stops the batch; its error is logged
// and recorded while the remaining scans proceed. With Workers > 1 scans run
// concurrently, which is safe because every run writes only inside its own
// run directory.
func (o *Orchestrator) Batch(ctx context.Context, scans []string) []Outcome {
	outcomes := make([]Outcome, len(scans))
	workers := o.params.Workers
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, scan := range scans {
		i, scan := i, scan
		g.Go(func() error {
			res, err := o.ProcessOne(ctx, scan)
			outcomes[i] = Outcome{Source: scan, Result: res, Err: err}
			reportOutcome(i+1, len(scans), outcomes[i])
			return nil // per-scan failures never abort the batch
		})
	}
	g.Wait()
	return outcomes
}

func reportOutcome(n, total int, out Outcome) {
	base := filepath.Base(out.Source)
	if out.Err != nil {
		fmt.Printf("[%d/%d] %s FAILED: %v\n", n, total, base, out.Err)
		logging.Errorf("%s failed: %v", out.Source, out.Err)
		return
	}

	res := out.Result
	size := "unknown size"
	if info, err := os.Stat(res.CombinedPath); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	fmt.Printf("[%d/%d] %s -> %s (%d structures, %s, %s)\n",
		n, total, base, filepath.Base(res.RunDir), len(res.Labels), size,
		res.Duration.Round(time.Millisecond))
	logging.Infof("%s segmented into %s (%d structures)", out.Source, res.RunDir, len(res.Labels))
}
