// Package uploader watches a filesystem directory for HLS output and
// pushes it to S3-compatible storage, grounded on
// original_source/peggy/src/app.rs.
package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/beebs-dev/strim/internal/logging"
	"github.com/beebs-dev/strim/internal/metrics"
)

// Config configures a Worker.
type Config struct {
	HLSDir                 string
	DeleteOldSegmentsAfter time.Duration // zero disables the GC sweep
}

// store is the subset of objectstore.Client a Worker needs, narrowed
// to an interface so tests can substitute a fake the way
// internal/ingest's pipelineClient interface does for the cluster API.
type store interface {
	Put(ctx context.Context, relativeKey, path, contentType, cacheControl string) (int64, error)
	Bucket() string
}

// Worker drains filesystem events and uploads the corresponding files,
// tracking which ones have already been uploaded so the GC sweep never
// removes a file that hasn't made it to S3 yet.
type Worker struct {
	cfg   Config
	store store
	log   *logging.Logger
	m     *metrics.Uploader

	mu       sync.Mutex
	uploaded map[string]time.Time
}

// New builds a Worker.
func New(cfg Config, objectStore store, log *logging.Logger, m *metrics.Uploader) *Worker {
	return &Worker{
		cfg:      cfg,
		store:    objectStore,
		log:      log,
		m:        m,
		uploaded: make(map[string]time.Time),
	}
}

// Run watches cfg.HLSDir and uploads files as they settle, blocking
// until ctx is canceled. It also starts the GC sweep goroutine when
// DeleteOldSegmentsAfter is set.
func (w *Worker) Run(ctx context.Context) error {
	events := make(chan string, watchQueueCapacity)

	go func() {
		if err := watchDir(ctx, w.cfg.HLSDir, events, w.log); err != nil {
			w.log.Errorf("filesystem watcher exited: %v", err)
		}
	}()

	if w.cfg.DeleteOldSegmentsAfter > 0 {
		go w.gcLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-events:
			w.handlePath(ctx, path)
		}
	}
}

// handlePath dispatches by extension exactly as app.rs's watch loop
// does: m3u8 playlists are uploaded and kept locally (so the next
// segment append has something to diff against). ts segments and vtt
// text tracks are uploaded and, by default, removed immediately —
// matching original_source/peggy, which has no GC concept at all.
// When DeleteOldSegmentsAfter is set, removal is deferred to the GC
// sweep instead: upload() leaves the uploaded-at timestamp in place so
// gcLoop can age the file out once it is actually old enough, rather
// than deleting it the instant the upload succeeds. Any other
// extension is ignored, matching the original's silent no-op default
// arm.
func (w *Worker) handlePath(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	removeImmediately := w.cfg.DeleteOldSegmentsAfter <= 0

	switch ext(path) {
	case "m3u8":
		w.upload(ctx, path, false)
	case "ts":
		w.upload(ctx, path, removeImmediately)
	case "vtt":
		w.upload(ctx, path, removeImmediately)
	}
}

func (w *Worker) upload(ctx context.Context, path string, remove bool) {
	relKey, err := filepath.Rel(w.cfg.HLSDir, path)
	if err != nil {
		w.log.Errorf("resolve relative key for %s: %v", path, err)
		return
	}
	relKey = filepath.ToSlash(relKey)

	cacheControl := ""
	if ext(path) == "m3u8" {
		cacheControl = "no-cache"
	}

	start := time.Now()
	size, err := w.store.Put(ctx, relKey, path, contentTypeFor(path), cacheControl)
	if err != nil {
		w.m.UploadErrors.Inc()
		w.log.Errorf("upload %s: %v", path, err)
		return
	}

	w.m.Uploads.Inc()
	w.m.BytesUploaded.Add(float64(size))
	w.log.Infof("uploaded %s to s3://%s/%s (%d bytes, %s)", path, w.store.Bucket(), relKey, size, time.Since(start).Round(time.Millisecond))

	w.mu.Lock()
	w.uploaded[path] = time.Now()
	w.mu.Unlock()

	if remove {
		if err := os.Remove(path); err != nil {
			w.log.Errorf("remove uploaded file %s: %v", path, err)
			return
		}
		w.m.FilesRemoved.Inc()

		w.mu.Lock()
		delete(w.uploaded, path)
		w.mu.Unlock()
	}
}

// gcLoop sweeps the HLS directory on a fixed interval, removing local
// .ts/.vtt files that have already been uploaded once and are older
// than DeleteOldSegmentsAfter. This resolves the DELETE_OLD_SEGMENTS_AFTER
// open question SPEC_FULL.md §4.3 calls out: the field reaches every
// pod template but original_source/peggy never actually consumes it.
func (w *Worker) gcLoop(ctx context.Context) {
	t := time.NewTicker(w.cfg.DeleteOldSegmentsAfter / 4)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.sweep()
		}
	}
}

func (w *Worker) sweep() {
	cutoff := time.Now().Add(-w.cfg.DeleteOldSegmentsAfter)

	w.mu.Lock()
	candidates := make([]string, 0, len(w.uploaded))
	for path, uploadedAt := range w.uploaded {
		if uploadedAt.Before(cutoff) {
			candidates = append(candidates, path)
		}
	}
	w.mu.Unlock()

	for _, path := range candidates {
		e := ext(path)
		if e != "ts" && e != "vtt" {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				w.log.Errorf("gc remove %s: %v", path, err)
			}
			continue
		}
		w.m.FilesRemoved.Inc()
		w.mu.Lock()
		delete(w.uploaded, path)
		w.mu.Unlock()
		w.log.Debugf("gc removed aged-out segment %s", path)
	}
}
