package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sandmantan90/medical-image-segmentation/pkg/augment"
	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "CT volume to augment")
	outDir := flag.String("out", "", "Output directory (default: next to the input)")
	flips := flag.Bool("flips", false, "Also write the seven axis-flip variants")
	seed := flag.Uint64("seed", 42, "Seed for the noise generator")
	flag.Parse()

	// Validate inputs
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	dir := *outDir
	if dir == "" {
		dir = filepath.Dir(*inputPath)
	}

	fmt.Println("================================")
	fmt.Println("CT AUGMENTATION BUNDLE")
	fmt.Printf("Input: %s\n", *inputPath)
	fmt.Println("================================")

	startTime := time.Now()

	written, err := augment.AugmentSet(*inputPath, dir, *seed)
	if err != nil {
		log.Fatalf("Augmentation failed: %v", err)
	}
	fmt.Println("Wrote augmented variants:")
	printVariants(written)

	if *flips {
		flipDir := filepath.Join(dir, nifti.Stem(filepath.Base(*inputPath))+"_augmented")
		flipped, err := augment.WriteFlipSet(*inputPath, flipDir)
		if err != nil {
			log.Fatalf("Flip set failed: %v", err)
		}
		fmt.Println("Wrote flip variants:")
		printVariants(flipped)
		written = append(written, flipped...)
	}

	elapsed := time.Since(startTime)
	fmt.Printf("\nAugmentation completed in %.2f seconds!\n", elapsed.Seconds())
	fmt.Printf("%d volumes written under: %s\n", len(written), dir)
}

func printVariants(paths []string) {
	for _, path := range paths {
		size := "unknown size"
		if info, err := os.Stat(path); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Printf("  %s (%s)\n", path, size)
	}
}
