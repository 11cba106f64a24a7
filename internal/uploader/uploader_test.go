package uploader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/beebs-dev/strim/internal/logging"
	"github.com/beebs-dev/strim/internal/metrics"
)

type fakeStore struct {
	mu   sync.Mutex
	puts []string
}

func (f *fakeStore) Put(ctx context.Context, relativeKey, path, contentType, cacheControl string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, relativeKey)
	return 42, nil
}

func (f *fakeStore) Bucket() string { return "test-bucket" }

func newTestWorker(t *testing.T, fake *fakeStore, dir string) *Worker {
	t.Helper()
	return New(Config{HLSDir: dir}, fake, logging.New("test"), metrics.NewUploader())
}

func TestHandlePathUploadsPlaylistWithoutRemoving(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.m3u8")
	if err := os.WriteFile(path, []byte("#EXTM3U"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fake := &fakeStore{}
	w := newTestWorker(t, fake, dir)
	w.handlePath(context.Background(), path)

	if len(fake.puts) != 1 || fake.puts[0] != "live.m3u8" {
		t.Fatalf("expected playlist to be uploaded once, got %v", fake.puts)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected playlist to remain on disk: %v", err)
	}
}

func TestHandlePathUploadsAndRemovesSegment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg-000.ts")
	if err := os.WriteFile(path, []byte("binary"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fake := &fakeStore{}
	w := newTestWorker(t, fake, dir)
	w.handlePath(context.Background(), path)

	if len(fake.puts) != 1 {
		t.Fatalf("expected segment to be uploaded once, got %v", fake.puts)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected segment to be removed after upload")
	}
}

func TestHandlePathDefersRemovalWhenGCConfigured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg-000.ts")
	if err := os.WriteFile(path, []byte("binary"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fake := &fakeStore{}
	w := newTestWorker(t, fake, dir)
	w.cfg.DeleteOldSegmentsAfter = time.Hour
	w.handlePath(context.Background(), path)

	if len(fake.puts) != 1 {
		t.Fatalf("expected segment to be uploaded once, got %v", fake.puts)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected segment to remain on disk until the GC sweep ages it out: %v", err)
	}

	w.mu.Lock()
	_, tracked := w.uploaded[path]
	w.mu.Unlock()
	if !tracked {
		t.Fatalf("expected upload() to record the uploaded-at time so sweep() can find it later")
	}

	w.uploaded[path] = time.Now().Add(-2 * time.Hour)
	w.sweep()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected sweep to remove the segment once it aged out")
	}
}

func TestHandlePathIgnoresHiddenAndUnknownFiles(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".tmp-seg-000.ts")
	unknown := filepath.Join(dir, "notes.txt")
	for _, p := range []string{hidden, unknown} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	fake := &fakeStore{}
	w := newTestWorker(t, fake, dir)
	w.handlePath(context.Background(), hidden)
	w.handlePath(context.Background(), unknown)

	if len(fake.puts) != 0 {
		t.Fatalf("expected no uploads for hidden/unknown files, got %v", fake.puts)
	}
}

func TestSweepRemovesOnlyAgedUploadedSegments(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "fresh.ts")
	remove := filepath.Join(dir, "aged.ts")
	playlist := filepath.Join(dir, "aged.m3u8")
	for _, p := range []string{keep, remove, playlist} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	fake := &fakeStore{}
	w := newTestWorker(t, fake, dir)
	w.cfg.DeleteOldSegmentsAfter = time.Hour

	w.uploaded[keep] = time.Now()
	w.uploaded[remove] = time.Now().Add(-2 * time.Hour)
	w.uploaded[playlist] = time.Now().Add(-2 * time.Hour)

	w.sweep()

	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("expected fresh segment to remain: %v", err)
	}
	if _, err := os.Stat(remove); !os.IsNotExist(err) {
		t.Fatalf("expected aged segment to be removed")
	}
	if _, err := os.Stat(playlist); err != nil {
		t.Fatalf("expected playlist to be left alone by sweep (only .ts/.vtt are swept)")
	}
}
