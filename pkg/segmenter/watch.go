package segmenter

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sandmantan90/medical-image-segmentation/pkg/nifti"
)

// watchMasks reports mask volumes as they appear in dir. It returns a stop
// function that shuts the watcher down and waits for the event loop to
// drain. Watch setup failures are swallowed: progress reporting is not worth
// failing a segmentation over.
func watchMasks(dir string, onMask func(name string, size int64)) (stop func()) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := make(map[string]bool)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(ev.Name)
				if seen[name] || !nifti.IsVolumeFile(name) {
					continue
				}
				seen[name] = true
				var size int64
				if info, err := os.Stat(ev.Name); err == nil {
					size = info.Size()
				}
				onMask(name, size)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() {
		w.Close()
		<-done
	}
}
