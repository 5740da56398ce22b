package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	Config{Logfile: path, MaxSize: 1, MaxAge: 1}.Setup()
	defer Shutdown()

	Infof("processed %d scans", 3)
	Errorf("segmentation failed for %s", "ct.nii.gz")
	Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Log file was not created: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, " INFO processed 3 scans") {
		t.Errorf("INFO line missing from log: %q", text)
	}
	if !strings.Contains(text, " ERROR segmentation failed for ct.nii.gz") {
		t.Errorf("ERROR line missing from log: %q", text)
	}
}
