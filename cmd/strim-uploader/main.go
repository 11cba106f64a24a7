// Command strim-uploader watches an HLS output directory and uploads
// new segments and playlists to S3-compatible storage, running
// alongside the ffmpeg container in each worker pod.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beebs-dev/strim/internal/config"
	"github.com/beebs-dev/strim/internal/logging"
	"github.com/beebs-dev/strim/internal/metrics"
	"github.com/beebs-dev/strim/internal/objectstore"
	"github.com/beebs-dev/strim/internal/uploader"
)

func main() {
	log := logging.New("strim-uploader")
	config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := objectstore.New(ctx, objectstore.Config{
		Bucket:      config.RequireString("S3_BUCKET", log.Fatal),
		Region:      config.OptionalString("S3_REGION", "us-east-1"),
		Endpoint:    config.OptionalString("S3_ENDPOINT", ""),
		KeyPrefix:   config.OptionalString("S3_KEY_PREFIX", ""),
		AccessKeyID: config.RequireString("AWS_ACCESS_KEY_ID", log.Fatal),
		SecretKey:   config.RequireString("AWS_SECRET_ACCESS_KEY", log.Fatal),
	})
	if err != nil {
		log.Fatalf("configure object storage: %v", err)
	}

	var deleteAfter time.Duration
	if raw := config.OptionalString("DELETE_OLD_SEGMENTS_AFTER", ""); raw != "" {
		deleteAfter = config.OptionalDuration("DELETE_OLD_SEGMENTS_AFTER", 0)
		if deleteAfter == 0 {
			log.Warningf("DELETE_OLD_SEGMENTS_AFTER=%q did not parse as a duration, GC sweep disabled", raw)
		}
	}

	w := uploader.New(uploader.Config{
		HLSDir:                 config.OptionalString("HLS_DIR", "/hls"),
		DeleteOldSegmentsAfter: deleteAfter,
	}, store, log, metrics.NewUploader())

	go func() {
		if err := metrics.Serve(ctx, config.OptionalString("METRICS_ADDRESS", ":9090")); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()

	log.Infof("strim-uploader watching %s", config.OptionalString("HLS_DIR", "/hls"))
	if err := w.Run(ctx); err != nil {
		log.Fatalf("uploader exited: %v", err)
	}
	log.Infof("strim-uploader shut down")
}
