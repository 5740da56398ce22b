// Package segmenter runs an external CT segmentation tool against a scan and
// fills a run directory with one mask volume per anatomic structure.
//
// The pipeline only depends on the Segmenter interface, so tests substitute a
// fake that writes canned masks, and a different tool can be dropped in
// without touching the pipeline.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// stderrTailLimit bounds how much trailing stderr a ToolError carries.
// Segmentation tools log entire Python tracebacks; the tail is where the
// actual cause sits.
const stderrTailLimit = 4 << 10

// ErrExternalTool matches any *ToolError via errors.Is, for callers that
// only need to know the external tool was at fault.
var ErrExternalTool = errors.New("external tool failed")

// Segmenter segments the scan at scanPath and writes per-structure mask
// volumes into outDir, which already exists and is empty.
type Segmenter interface {
	Segment(ctx context.Context, scanPath, outDir string) error
}

// Func adapts a plain function to the Segmenter interface.
type Func func(ctx context.Context, scanPath, outDir string) error

func (f Func) Segment(ctx context.Context, scanPath, outDir string) error {
	return f(ctx, scanPath, outDir)
}

// ToolError reports an external tool run that failed. ExitCode is -1 when
// the process never started or was killed by a signal.
type ToolError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Is(target error) bool { return target == ErrExternalTool }

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecSegmenter invokes a TotalSegmentator-style command line tool:
//
//	{command} -i {scan} -o {run dir} --task {task} [--fast] {extra args}
type ExecSegmenter struct {
	Command   string   // tool binary, e.g. "TotalSegmentator"
	Task      string   // --task value; empty omits the flag
	Fast      bool     // pass --fast for the lower resolution model
	ExtraArgs []string // appended verbatim

	// Stdout receives the tool's own progress output. Nil discards it.
	Stdout io.Writer

	// OnMask, when set, is called as mask files appear in the run directory
	// while the tool is still running. Best effort: if the directory cannot
	// be watched, segmentation proceeds without progress callbacks.
	OnMask func(name string, size int64)
}

// String returns the command line Segment would run, without the scan and
// output paths.
func (s *ExecSegmenter) String() string {
	parts := append([]string{s.Command}, s.args("", "")...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *ExecSegmenter) args(scanPath, outDir string) []string {
	var args []string
	if scanPath != "" || outDir != "" {
		args = append(args, "-i", scanPath, "-o", outDir)
	}
	if s.Task != "" {
		args = append(args, "--task", s.Task)
	}
	if s.Fast {
		args = append(args, "--fast")
	}
	return append(args, s.ExtraArgs...)
}

// Segment runs the tool to completion. Cancelling ctx kills the process and
// returns the context's error; any other failure is reported as a ToolError
// carrying the trailing stderr output.
func (s *ExecSegmenter) Segment(ctx context.Context, scanPath, outDir string) error {
	cmd := exec.CommandContext(ctx, s.Command, s.args(scanPath, outDir)...)
	tail := &tailWriter{limit: stderrTailLimit}
	cmd.Stderr = tail
	if s.Stdout != nil {
		cmd.Stdout = s.Stdout
	}

	if s.OnMask != nil {
		stop := watchMasks(outDir, s.OnMask)
		defer stop()
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("running %s: %w", s.Command, ctx.Err())
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ToolError{Command: s.Command, ExitCode: code, Stderr: tail.String(), Err: err}
	}
	return nil
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		excess := len(w.buf) - w.limit
		copy(w.buf, w.buf[excess:])
		w.buf = w.buf[:w.limit]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return strings.TrimSpace(string(w.buf))
}
