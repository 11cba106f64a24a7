package reconciler

import (
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/beebs-dev/strim/pkg/pipeline"
)

func newTestStrim(phase pipeline.StrimPhase) *pipeline.Strim {
	return &pipeline.Strim{
		ObjectMeta: metav1.ObjectMeta{Name: "strim-abc12345", Namespace: "strim"},
		Status:     pipeline.StrimStatus{Phase: phase},
	}
}

func podWithPhase(phase corev1.PodPhase, specHash string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Annotations: map[string]string{specHashAnnotation: specHash},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func TestDetermineActionCreatesWhenPodMissing(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhasePending)
	if act := determineAction(s, nil, "hash1"); act != actionCreatePod {
		t.Fatalf("expected actionCreatePod, got %v", act)
	}
}

func TestDetermineActionDeletesOnDeletionTimestamp(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhaseActive)
	now := metav1.NewTime(time.Now())
	s.DeletionTimestamp = &now

	pod := podWithPhase(corev1.PodRunning, "hash1")
	if act := determineAction(s, pod, "hash1"); act != actionDeletePod {
		t.Fatalf("expected actionDeletePod, got %v", act)
	}

	if act := determineAction(s, nil, "hash1"); act != actionNone {
		t.Fatalf("expected actionNone when already deleted, got %v", act)
	}
}

func TestDetermineActionRecreatesOnSpecHashDrift(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhaseActive)
	pod := podWithPhase(corev1.PodRunning, "stale-hash")

	if act := determineAction(s, pod, "current-hash"); act != actionRecreatePod {
		t.Fatalf("expected actionRecreatePod, got %v", act)
	}
}

func TestDetermineActionMarksStartingForPendingPod(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhasePending)
	pod := podWithPhase(corev1.PodPending, "hash1")

	if act := determineAction(s, pod, "hash1"); act != actionMarkStarting {
		t.Fatalf("expected actionMarkStarting, got %v", act)
	}
}

func TestDetermineActionMarksActiveOnlyWhenPodReady(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhaseStarting)
	pod := podWithPhase(corev1.PodRunning, "hash1")

	if act := determineAction(s, pod, "hash1"); act != actionNone {
		t.Fatalf("expected actionNone for a running-but-not-ready pod, got %v", act)
	}

	pod.Status.Conditions = []corev1.PodCondition{
		{Type: corev1.PodReady, Status: corev1.ConditionTrue},
	}
	if act := determineAction(s, pod, "hash1"); act != actionMarkActive {
		t.Fatalf("expected actionMarkActive once ready, got %v", act)
	}
}

func TestDetermineActionDeletesPodOnFailedOrSucceeded(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhaseActive)

	failed := podWithPhase(corev1.PodFailed, "hash1")
	if act := determineAction(s, failed, "hash1"); act != actionDeletePod {
		t.Fatalf("expected actionDeletePod for failed pod, got %v", act)
	}

	succeeded := podWithPhase(corev1.PodSucceeded, "hash1")
	if act := determineAction(s, succeeded, "hash1"); act != actionDeletePod {
		t.Fatalf("expected actionDeletePod for succeeded pod, got %v", act)
	}
}

func TestDetermineActionDeletesPodWithTerminatedContainer(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhaseActive)
	pod := podWithPhase(corev1.PodRunning, "hash1")
	pod.Status.ContainerStatuses = []corev1.ContainerStatus{
		{Name: "ffmpeg", State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 1}}},
	}

	if act := determineAction(s, pod, "hash1"); act != actionDeletePod {
		t.Fatalf("expected actionDeletePod when a container has terminated, got %v", act)
	}
}

func TestDetermineActionMarksErrorOnUnknownPhase(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhaseActive)
	pod := podWithPhase(corev1.PodUnknown, "hash1")

	if act := determineAction(s, pod, "hash1"); act != actionMarkError {
		t.Fatalf("expected actionMarkError for unknown pod phase, got %v", act)
	}
}

func TestDetermineActionSettles(t *testing.T) {
	s := newTestStrim(pipeline.StrimPhaseError)
	pod := podWithPhase(corev1.PodUnknown, "hash1")

	if act := determineAction(s, pod, "hash1"); act != actionNone {
		t.Fatalf("expected actionNone once status already reflects the failure, got %v", act)
	}
}
