// Command strim-reconciler converges Strim records to running worker
// pods, holding a leader lease so exactly one replica reconciles at a
// time.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	coordinationv1 "k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/beebs-dev/strim/internal/clusterapi"
	"github.com/beebs-dev/strim/internal/config"
	"github.com/beebs-dev/strim/internal/logging"
	"github.com/beebs-dev/strim/internal/metrics"
	"github.com/beebs-dev/strim/internal/reconciler"
)

func main() {
	log := logging.New("strim-reconciler")
	config.Load()

	namespace := config.OptionalString("NAMESPACE", "strim")
	client, err := clusterapi.NewInCluster(namespace)
	if err != nil {
		log.Fatalf("connect to cluster API: %v", err)
	}

	m := metrics.NewReconciler()

	podConfig := reconciler.PodTemplateConfig{
		FFmpegImage:   config.RequireString("FFMPEG_IMAGE", log.Fatal),
		UploaderImage: config.RequireString("UPLOADER_IMAGE", log.Fatal),
		HLSDir:        config.OptionalString("HLS_DIR", "/hls"),
	}
	pollInterval := config.OptionalDuration("RECONCILE_POLL_INTERVAL", 10*time.Second)

	ctrl := reconciler.New(client, log, m, podConfig, pollInterval)

	identity := config.OptionalString("POD_NAME", "")
	if identity == "" {
		identity = uuid.NewString()
	}

	lock := &coordinationv1.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "strim-controller-lock",
			Namespace: namespace,
		},
		Client: client.Pods.CoordinationV1(),
		LockConfig: coordinationv1.ResourceLockConfig{
			Identity: identity,
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := metrics.Serve(ctx, config.OptionalString("METRICS_ADDRESS", ":9090")); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()

	log.Infof("strim-reconciler starting as %s, competing for the controller lease", identity)
	ctrl.RunWithLeaderElection(ctx, lock, identity)
	log.Infof("strim-reconciler shut down")
}
