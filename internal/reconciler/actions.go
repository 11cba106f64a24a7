// Package reconciler converges Strim records to running Kubernetes
// worker pods: create a pod when one is missing, recreate it when its
// spec hash drifts, and tear it down when the Strim is deleted.
// Grounded on original_source/operator/src/strims/{reconcile,actions}.rs.
package reconciler

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/beebs-dev/strim/pkg/pipeline"
)

// action is the decision determineAction reaches for one Strim/pod
// pair, mirroring original_source's StrimAction enum.
type action int

const (
	actionNone action = iota
	actionCreatePod
	actionRecreatePod // pod exists but its spec-hash annotation is stale
	actionMarkStarting
	actionMarkActive
	actionMarkError
	actionDeletePod
)

// specHashAnnotation is the annotation key the reconciler stamps on
// every worker pod it creates, read back on the next reconcile to
// decide whether the pod still matches the Strim's current spec.
const specHashAnnotation = "strim.beebs.dev/spec-hash"

// determineAction is a pure function of the Strim and its pod (if any)
// so it can be unit-tested without a fake API server. It is the single
// place the reconcile loop's action table lives, matching
// original_source/operator/src/strims/reconcile.rs's determine_action.
func determineAction(s *pipeline.Strim, pod *corev1.Pod, specHash string) action {
	if s.DeletionTimestamp != nil {
		if pod != nil {
			return actionDeletePod
		}
		return actionNone
	}

	if pod == nil {
		return actionCreatePod
	}

	if pod.Annotations[specHashAnnotation] != specHash {
		return actionRecreatePod
	}

	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed || hasTerminatedContainer(pod) {
		return actionDeletePod
	}

	switch pod.Status.Phase {
	case corev1.PodPending:
		if s.Status.Phase != pipeline.StrimPhaseStarting {
			return actionMarkStarting
		}
		return actionNone
	case corev1.PodRunning:
		if isPodReady(pod) && s.Status.Phase != pipeline.StrimPhaseActive {
			return actionMarkActive
		}
		return actionNone
	case corev1.PodUnknown:
		if s.Status.Phase != pipeline.StrimPhaseError {
			return actionMarkError
		}
		return actionNone
	default:
		return actionNone
	}
}

func isPodReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// hasTerminatedContainer reports whether any container in the pod
// (init or regular) has already exited, the same self-healing signal
// a Succeeded/Failed phase gives: the worker is gone and recreating
// the pod is the only way forward.
func hasTerminatedContainer(pod *corev1.Pod) bool {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return true
		}
	}
	for _, cs := range pod.Status.InitContainerStatuses {
		if cs.State.Terminated != nil {
			return true
		}
	}
	return false
}
