package reconciler

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/beebs-dev/strim/pkg/pipeline"
)

func TestBuildPodSetsOwnerReferenceAndAnnotation(t *testing.T) {
	s := &pipeline.Strim{
		ObjectMeta: metav1.ObjectMeta{Name: "strim-abc12345", Namespace: "strim", UID: "uid-1"},
		Spec: pipeline.StrimSpec{
			Source: pipeline.StrimSource{InternalURL: "rtmp://ingestd/live/abc"},
			Target: pipeline.StrimTarget{Bucket: "my-bucket", Region: "us-east-1", Secret: "s3-creds", KeyPrefix: "live/"},
		},
	}
	cfg := PodTemplateConfig{FFmpegImage: "ffmpeg:latest", UploaderImage: "strim-uploader:latest", HLSDir: "/hls"}

	pod := buildPod(s, cfg, "spec-hash-1")

	if pod.Namespace != "strim" {
		t.Fatalf("expected pod namespace to match strim namespace, got %s", pod.Namespace)
	}
	if pod.Annotations[specHashAnnotation] != "spec-hash-1" {
		t.Fatalf("expected spec hash annotation to be set")
	}
	if len(pod.OwnerReferences) != 1 || pod.OwnerReferences[0].Name != s.Name {
		t.Fatalf("expected owner reference back to the strim")
	}
	if !*pod.OwnerReferences[0].Controller {
		t.Fatalf("expected owner reference to be a controller reference")
	}
	if len(pod.Spec.Containers) != 2 {
		t.Fatalf("expected ffmpeg and peggy containers, got %d", len(pod.Spec.Containers))
	}
}

func TestBuildPodOmitsOptionalEnvWhenUnset(t *testing.T) {
	s := &pipeline.Strim{
		ObjectMeta: metav1.ObjectMeta{Name: "strim-abc12345", Namespace: "strim"},
		Spec: pipeline.StrimSpec{
			Source: pipeline.StrimSource{InternalURL: "rtmp://ingestd/live/abc"},
			Target: pipeline.StrimTarget{Bucket: "my-bucket"},
		},
	}
	cfg := PodTemplateConfig{FFmpegImage: "ffmpeg:latest", UploaderImage: "strim-uploader:latest", HLSDir: "/hls"}

	pod := buildPod(s, cfg, "spec-hash-1")

	for _, c := range pod.Spec.Containers {
		for _, e := range c.Env {
			if e.Name == "S3_ENDPOINT" || e.Name == "DELETE_OLD_SEGMENTS_AFTER" {
				t.Fatalf("did not expect %s to be set when target field is empty", e.Name)
			}
		}
	}
}

func TestBuildPodIncludesOptionalEnvWhenSet(t *testing.T) {
	deleteAfter := "24h"
	s := &pipeline.Strim{
		ObjectMeta: metav1.ObjectMeta{Name: "strim-abc12345", Namespace: "strim"},
		Spec: pipeline.StrimSpec{
			Source: pipeline.StrimSource{InternalURL: "rtmp://ingestd/live/abc"},
			Target: pipeline.StrimTarget{
				Bucket:                 "my-bucket",
				Endpoint:               "https://s3.example.com",
				DeleteOldSegmentsAfter: &deleteAfter,
			},
		},
	}
	cfg := PodTemplateConfig{FFmpegImage: "ffmpeg:latest", UploaderImage: "strim-uploader:latest", HLSDir: "/hls"}

	pod := buildPod(s, cfg, "spec-hash-1")

	found := map[string]bool{}
	for _, e := range pod.Spec.Containers[0].Env {
		found[e.Name] = true
	}
	if !found["S3_ENDPOINT"] || !found["DELETE_OLD_SEGMENTS_AFTER"] {
		t.Fatalf("expected optional env vars to be present when set")
	}
}
