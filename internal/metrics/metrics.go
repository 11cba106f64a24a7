// Package metrics exposes Prometheus counters/gauges for all three
// strim binaries over a plain net/http /metrics endpoint. This is pure
// ambient scaffolding: nothing in internal/ingest, internal/reconciler
// or internal/uploader branches on a counter's value, matching spec.md
// §1's exclusion of observability from the behavioral scope while
// still carrying the ambient stack per SPEC_FULL.md §6.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest holds the counters incremented by internal/ingest.
type Ingest struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	Publishes           prometheus.Counter
	Viewers             prometheus.Gauge
}

func NewIngest() *Ingest {
	return &Ingest{
		ConnectionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_ingest_connections_accepted_total",
			Help: "TCP connections accepted by the RTMP listener(s).",
		}),
		ConnectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_ingest_connections_rejected_total",
			Help: "Connections rejected by the per-IP concurrency limit.",
		}),
		Publishes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_ingest_publishes_total",
			Help: "Accepted publish requests.",
		}),
		Viewers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "strim_ingest_viewers",
			Help: "Currently connected viewer sessions across all channels.",
		}),
	}
}

// Reconciler holds the counters incremented by internal/reconciler.
type Reconciler struct {
	Reconciles        prometheus.Counter
	ReconcileErrors   prometheus.Counter
	PodsCreated       prometheus.Counter
	PodsDeleted       prometheus.Counter
	IsLeader          prometheus.Gauge
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		Reconciles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_reconciler_reconciles_total",
			Help: "Reconcile loop iterations processed.",
		}),
		ReconcileErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_reconciler_reconcile_errors_total",
			Help: "Reconcile loop iterations that returned an error and were requeued.",
		}),
		PodsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_reconciler_pods_created_total",
			Help: "Worker pods created.",
		}),
		PodsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_reconciler_pods_deleted_total",
			Help: "Worker pods deleted.",
		}),
		IsLeader: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "strim_reconciler_is_leader",
			Help: "1 if this process currently holds the controller lease, 0 otherwise.",
		}),
	}
}

// Uploader holds the counters incremented by internal/uploader.
type Uploader struct {
	Uploads       prometheus.Counter
	UploadErrors  prometheus.Counter
	BytesUploaded prometheus.Counter
	FilesRemoved  prometheus.Counter
}

func NewUploader() *Uploader {
	return &Uploader{
		Uploads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_uploader_uploads_total",
			Help: "Objects successfully uploaded to object storage.",
		}),
		UploadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_uploader_upload_errors_total",
			Help: "Upload attempts that failed.",
		}),
		BytesUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_uploader_bytes_uploaded_total",
			Help: "Total bytes uploaded to object storage.",
		}),
		FilesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "strim_uploader_files_removed_total",
			Help: "Local files removed after upload or age-based garbage collection.",
		}),
	}
}

// Serve starts a /metrics HTTP server on addr in its own goroutine and
// returns immediately; it stops when ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		_ = srv.Serve(ln)
	}()

	return nil
}
