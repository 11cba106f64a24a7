// Package clusterapi wraps the Kubernetes dynamic client for Strim
// objects. ingestd only ever creates and deletes a Strim by name;
// strim-reconciler additionally gets, lists, and patches status —
// both share this client so the unstructured<->typed conversion logic
// lives in exactly one place.
package clusterapi

import (
	"context"
	"fmt"

	"github.com/beebs-dev/strim/pkg/pipeline"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client is a thin typed façade over a dynamic.Interface scoped to the
// Strim resource, plus the typed clientset strim-reconciler needs for
// pods. ingestd only ever uses the Strim half.
type Client struct {
	Dynamic   dynamic.Interface
	Pods      kubernetes.Interface
	Namespace string
}

// NewInCluster builds a Client from in-cluster configuration, falling
// back to KUBECONFIG for local development — the same two-path
// resolution every controller-runtime-based example in the retrieval
// pack uses.
func NewInCluster(namespace string) (*Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("clusterapi: resolve kubeconfig: %w", err)
		}
	}

	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("clusterapi: build dynamic client: %w", err)
	}

	pods, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("clusterapi: build typed clientset: %w", err)
	}

	return &Client{Dynamic: dyn, Pods: pods, Namespace: namespace}, nil
}

func (c *Client) strims() dynamic.ResourceInterface {
	return c.Dynamic.Resource(pipeline.Resource()).Namespace(c.Namespace)
}

// CreatePipeline creates a Strim object, used by ingestd on a newly
// accepted publish. A conflict (already exists) is treated the same as
// the name being taken by an in-flight reconcile of a prior session.
func (c *Client) CreatePipeline(ctx context.Context, s *pipeline.Strim) error {
	s.TypeMeta = metav1.TypeMeta{APIVersion: pipeline.GroupVersion.String(), Kind: pipeline.Kind}
	u, err := toUnstructured(s)
	if err != nil {
		return err
	}
	_, err = c.strims().Create(ctx, u, metav1.CreateOptions{FieldManager: "ingestd"})
	return err
}

// DeletePipeline deletes a Strim by name, used by ingestd when a
// publisher disconnects. A not-found error is swallowed by the caller
// in internal/ingest, matching spec.md §7's "already gone" handling.
func (c *Client) DeletePipeline(ctx context.Context, name string) error {
	return c.strims().Delete(ctx, name, metav1.DeleteOptions{})
}

// GetPipeline fetches a Strim by name and converts it to the typed
// form, used by strim-reconciler's reconcile loop.
func (c *Client) GetPipeline(ctx context.Context, name string) (*pipeline.Strim, error) {
	u, err := c.strims().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	return fromUnstructured(u)
}

// ListPipelines lists all Strim objects in the namespace, used by
// strim-reconciler's poll-and-enqueue watcher.
func (c *Client) ListPipelines(ctx context.Context) ([]pipeline.Strim, error) {
	list, err := c.strims().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	out := make([]pipeline.Strim, 0, len(list.Items))
	for i := range list.Items {
		s, err := fromUnstructured(&list.Items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// PatchStatus applies a JSON Patch to a Strim's status subresource
// under a fixed field manager, mirroring original_source/operator's
// patch_status: an RFC 6902 JSON Patch on the status subresource only,
// so the reconciler never clobbers a concurrently-updated spec.
func (c *Client) PatchStatus(ctx context.Context, name string, patch []byte) error {
	_, err := c.strims().Patch(ctx, name, patchTypeJSON, patch, metav1.PatchOptions{
		FieldManager: "strim-reconciler",
	}, "status")
	return err
}

const patchTypeJSON = "application/json-patch+json"

func toUnstructured(s *pipeline.Strim) (*unstructured.Unstructured, error) {
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(s)
	if err != nil {
		return nil, fmt.Errorf("clusterapi: convert to unstructured: %w", err)
	}
	return &unstructured.Unstructured{Object: m}, nil
}

func fromUnstructured(u *unstructured.Unstructured) (*pipeline.Strim, error) {
	var s pipeline.Strim
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, &s); err != nil {
		return nil, fmt.Errorf("clusterapi: convert from unstructured: %w", err)
	}
	return &s, nil
}
