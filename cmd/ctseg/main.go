package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sandmantan90/medical-image-segmentation/internal/logging"
	"github.com/sandmantan90/medical-image-segmentation/pkg/combine"
	"github.com/sandmantan90/medical-image-segmentation/pkg/config"
	"github.com/sandmantan90/medical-image-segmentation/pkg/dcmvol"
	"github.com/sandmantan90/medical-image-segmentation/pkg/pipeline"
	"github.com/sandmantan90/medical-image-segmentation/pkg/segmenter"
	"github.com/sandmantan90/medical-image-segmentation/pkg/staging"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	initConfig := flag.Bool("init", false, "Write a default configuration file to the -config path and exit")
	inplace := flag.Bool("inplace", false, "Stage run directories beside each scan instead of under output.root")
	dicomDir := flag.String("dicom", "", "Convert this DICOM series directory and segment the result")
	dryRun := flag.Bool("dry-run", false, "List the scans that would be processed and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default configuration: %v", err)
		}
		fmt.Printf("Wrote default configuration to: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if !*inplace && cfg.Output.Root == "" {
		log.Fatalf("Configuration error: output.root is required unless -inplace is given")
	}

	logging.Config{
		Logfile: cfg.Log.File,
		MaxSize: cfg.Log.MaxSizeMB,
		MaxAge:  cfg.Log.MaxAgeDays,
	}.Setup()
	defer logging.Shutdown()

	fmt.Println("================================")
	fmt.Println("CT SEGMENTATION HARNESS")
	fmt.Printf("External tool: %s (task: %s)\n", cfg.Segmenter.Command, cfg.Segmenter.Task)
	fmt.Println("================================")

	// Collect the scans to process
	var scans []string
	if *dicomDir != "" {
		fmt.Printf("Converting DICOM series: %s\n", *dicomDir)
		converted, err := dcmvol.ConvertSeries(*dicomDir)
		if err != nil {
			log.Fatalf("DICOM conversion failed: %v", err)
		}
		fmt.Printf("Series converted to: %s\n", converted)
		scans = []string{converted}
	} else {
		scans, err = discoverScans(cfg.Input.CTRoot, cfg.Input.Suffix)
		if err != nil {
			log.Fatalf("Scan discovery failed: %v", err)
		}
		if len(scans) == 0 {
			log.Fatalf("No scans matching %q found under %s", cfg.Input.Suffix, cfg.Input.CTRoot)
		}
	}

	fmt.Printf("Found %d scans to process\n", len(scans))
	if *dryRun {
		for _, scan := range scans {
			fmt.Printf("  %s\n", scan)
		}
		return
	}

	runRoot := cfg.Output.Root
	if *inplace {
		runRoot = ""
	}
	seg := &segmenter.ExecSegmenter{
		Command:   cfg.Segmenter.Command,
		Task:      cfg.Segmenter.Task,
		Fast:      cfg.Segmenter.Fast,
		ExtraArgs: cfg.Segmenter.ExtraArgs,
		Stdout:    os.Stdout,
		OnMask: func(name string, size int64) {
			fmt.Printf("  mask written: %s (%s)\n", name, humanize.Bytes(uint64(size)))
		},
	}
	orch := pipeline.New(&pipeline.Params{
		Stager:       &staging.Stager{Root: runRoot, Tool: staging.ToolTag(cfg.Segmenter.Command)},
		Segmenter:    seg,
		SavePreviews: cfg.Output.SavePreviews,
		Workers:      cfg.Batch.Workers,
	})

	startTime := time.Now()
	outcomes := orch.Batch(context.Background(), scans)
	elapsed := time.Since(startTime)

	succeeded := 0
	var failed []pipeline.Outcome
	for _, out := range outcomes {
		if out.Err != nil {
			failed = append(failed, out)
		} else {
			succeeded++
		}
	}

	fmt.Printf("\nBatch completed in %.2f seconds!\n", elapsed.Seconds())
	fmt.Printf("Processed %d scans: %d succeeded, %d failed\n", len(outcomes), succeeded, len(failed))
	for _, out := range failed {
		fmt.Printf("  FAILED %s: %v\n", out.Source, out.Err)
	}
	if len(failed) > 0 {
		// Per-scan failures never change the exit code.
		fmt.Println("Warning: some scans failed; see the log for details.")
		logging.Warningf("batch finished with %d failed scans", len(failed))
	}
}

// discoverScans walks root and returns every file matching suffix in sorted
// order, skipping combined label volumes left by earlier runs.
func discoverScans(root, suffix string) ([]string, error) {
	var scans []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		if strings.HasPrefix(d.Name(), combine.CombinedPrefix) {
			return nil
		}
		scans = append(scans, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(scans)
	return scans, nil
}
