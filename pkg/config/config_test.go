package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig drops a YAML config file and returns its path.
func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
input:
  ctRoot: /data/scans
  suffix: .nii
output:
  root: /data/runs
  savePreviews: true
batch:
  workers: 4
segmenter:
  command: TotalSegmentator
  task: total
  fast: true
  extraArgs: ["--nr_thr_saving", "1"]
log:
  file: /var/log/ctseg.log
  maxSizeMB: 50
  maxAgeDays: 7
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Input.CTRoot != "/data/scans" {
		t.Errorf("Expected ctRoot /data/scans, got %q", cfg.Input.CTRoot)
	}
	if cfg.Input.Suffix != ".nii" {
		t.Errorf("Expected suffix .nii, got %q", cfg.Input.Suffix)
	}
	if cfg.Output.Root != "/data/runs" || !cfg.Output.SavePreviews {
		t.Errorf("Output section not loaded: %+v", cfg.Output)
	}
	if cfg.Batch.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Batch.Workers)
	}
	if !cfg.Segmenter.Fast || cfg.Segmenter.Task != "total" {
		t.Errorf("Segmenter section not loaded: %+v", cfg.Segmenter)
	}
	if len(cfg.Segmenter.ExtraArgs) != 2 || cfg.Segmenter.ExtraArgs[0] != "--nr_thr_saving" {
		t.Errorf("Expected extra args to survive, got %v", cfg.Segmenter.ExtraArgs)
	}
	if cfg.Log.MaxSizeMB != 50 || cfg.Log.MaxAgeDays != 7 {
		t.Errorf("Log section not loaded: %+v", cfg.Log)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
input:
  ctRoot: /data/scans
segmenter:
  task: total
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Input.Suffix != ".nii.gz" {
		t.Errorf("Expected default suffix .nii.gz, got %q", cfg.Input.Suffix)
	}
	if cfg.Batch.Workers != 1 {
		t.Errorf("Expected default of 1 worker, got %d", cfg.Batch.Workers)
	}
	if cfg.Segmenter.Command != "TotalSegmentator" {
		t.Errorf("Expected default command, got %q", cfg.Segmenter.Command)
	}
	if cfg.Log.MaxSizeMB != 100 || cfg.Log.MaxAgeDays != 14 {
		t.Errorf("Expected default log limits, got %+v", cfg.Log)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "MissingCTRoot",
			yaml:    "segmenter:\n  task: total\n",
			wantMsg: "input.ctRoot",
		},
		{
			name:    "MissingTask",
			yaml:    "input:\n  ctRoot: /data/scans\n",
			wantMsg: "segmenter.task",
		},
		{
			name:    "EmptyCommand",
			yaml:    "input:\n  ctRoot: /data\nsegmenter:\n  command: \"\"\n  task: total\n",
			wantMsg: "segmenter.command",
		},
		{
			name:    "ZeroWorkers",
			yaml:    "input:\n  ctRoot: /data\nbatch:\n  workers: 0\nsegmenter:\n  task: total\n",
			wantMsg: "batch.workers",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.yaml))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Expected %q in error, got %q", tc.wantMsg, err.Error())
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Fatal("Expected an error for a missing config file")
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "input: [unclosed"))
	if err == nil {
		t.Fatal("Expected an error for malformed YAML")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.CTRoot = "/data/scans"
	cfg.Output.Root = "/data/runs"
	cfg.Segmenter.Task = "total_mr"
	cfg.Batch.Workers = 2

	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Input.CTRoot != cfg.Input.CTRoot ||
		loaded.Output.Root != cfg.Output.Root ||
		loaded.Segmenter.Task != cfg.Segmenter.Task ||
		loaded.Batch.Workers != cfg.Batch.Workers {
		t.Errorf("Round trip changed the config: %+v", loaded)
	}
}
