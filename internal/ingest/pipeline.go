package ingest

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/beebs-dev/strim/pkg/pipeline"
)

// pipelineClient is the subset of clusterapi.Client the owner loop
// needs, kept as an interface so routing_test.go can exercise publish
// routing without a real API server.
type pipelineClient interface {
	CreatePipeline(ctx context.Context, s *pipeline.Strim) error
	DeletePipeline(ctx context.Context, name string) error
}

// createPipeline builds and submits the Strim record for a newly
// accepted publish. Its ownerRef points at this ingestd pod (spec.md
// §3: "the ingest-server pod that created it; enables cascade
// deletion") so a pod eviction or rollout cleans up every Strim it
// created without the reconciler needing to notice the pod is gone.
func (srv *Server) createPipeline(ctx context.Context, name, internalURL string) error {
	s := &pipeline.Strim{}
	s.Name = name
	s.Namespace = srv.cfg.Namespace
	s.Spec = pipeline.StrimSpec{
		Source: pipeline.StrimSource{InternalURL: internalURL},
		Target: srv.cfg.Target,
	}
	s.Status = pipeline.StrimStatus{
		Phase:       pipeline.StrimPhasePending,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
	if srv.cfg.PodName != "" {
		s.OwnerReferences = []metav1.OwnerReference{
			{
				APIVersion: "v1",
				Kind:       "Pod",
				Name:       srv.cfg.PodName,
				UID:        types.UID(srv.cfg.PodUID),
				Controller: boolPtr(true),
			},
		}
	}

	return srv.pipelines.CreatePipeline(ctx, s)
}

func boolPtr(b bool) *bool { return &b }

// dispatchPipelineCreate and dispatchPipelineDelete run the cluster
// API call on its own goroutine so a slow or unreachable API server
// never stalls the owner loop — only the outcome is logged, exactly
// the "fire and log" treatment spec.md §7 prescribes for Pipeline
// writes that the publisher itself cannot act on. Both snapshot the
// pipeline name onto the stack before spawning: ch is owner-goroutine
// state and must never be read from the background goroutine once a
// later publish/unpublish has started mutating it.
func (srv *Server) dispatchPipelineCreate(ctx context.Context, ch *mediaChannel, internalURL string) {
	name := ch.pipelineName
	go func() {
		if err := srv.createPipeline(ctx, name, internalURL); err != nil {
			srv.log.Errorf("create pipeline %s: %v", name, err)
		}
	}()
}

func (srv *Server) dispatchPipelineDelete(ctx context.Context, ch *mediaChannel) {
	name := ch.pipelineName
	go func() {
		if err := srv.pipelines.DeletePipeline(ctx, name); err != nil && !apierrors.IsNotFound(err) {
			srv.log.Errorf("delete pipeline %s: %v", name, err)
		}
	}()
}
