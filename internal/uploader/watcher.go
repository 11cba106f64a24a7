package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/beebs-dev/strim/internal/logging"
)

// watchQueueCapacity bounds the channel fsnotify events are funneled
// through, matching original_source/peggy's mpsc::channel::<PathBuf>(1024)
// and its "drop instead of block" backpressure policy (app.rs's
// watcher callback uses try_send).
const watchQueueCapacity = 1024

// watchDir recursively watches root and sends every file path that is
// created or rewritten to out, dropping events once out is full rather
// than blocking the notify callback — fsnotify itself is not
// recursive, so every directory Create event triggers a new Add.
func watchDir(ctx context.Context, root string, out chan<- string, log *logging.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addRecursive(w, root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watch error: %v", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			handleEvent(w, ev, out, log)
		}
	}
}

func handleEvent(w *fsnotify.Watcher, ev fsnotify.Event, out chan<- string, log *logging.Logger) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		// File already gone (e.g. a rename-away) or a transient race
		// with the writer; nothing to upload.
		return
	}

	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			if err := addRecursive(w, ev.Name); err != nil {
				log.Errorf("watch new directory %s: %v", ev.Name, err)
			}
		}
		return
	}

	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}

	select {
	case out <- ev.Name:
	default:
		log.Warningf("upload queue full, dropping event for %s", ev.Name)
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
