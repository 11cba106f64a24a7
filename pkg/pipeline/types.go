// Package pipeline holds the Pipeline record schema shared by ingestd
// and strim-reconciler. A Pipeline is a Kubernetes-style declarative
// record: ingestd creates and deletes it, strim-reconciler reads it and
// converges the cluster to match.
package pipeline

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GroupName is the API group the Strim CRD is served under.
const GroupName = "strim.beebs.dev"

// GroupVersion is the group/version this package implements.
var GroupVersion = schema.GroupVersion{Group: GroupName, Version: "v1"}

// Kind is the CRD's Kind field.
const Kind = "Strim"

// Plural is the CRD's plural resource name, used to build the dynamic
// client's GroupVersionResource.
const Plural = "strims"

// Resource returns the GroupVersionResource for Strim objects, for use
// with a dynamic client.
func Resource() schema.GroupVersionResource {
	return GroupVersion.WithResource(Plural)
}

// StrimPhase is a short description of a Strim's current state.
type StrimPhase string

const (
	StrimPhasePending     StrimPhase = "Pending"
	StrimPhaseStarting    StrimPhase = "Starting"
	StrimPhaseActive      StrimPhase = "Active"
	StrimPhaseTerminating StrimPhase = "Terminating"
	StrimPhaseError       StrimPhase = "Error"
)

// StrimSource describes where the worker pod should pull media from.
type StrimSource struct {
	InternalURL string `json:"internalUrl"`
}

// StrimTarget describes where the HLS output of the worker pod should
// land, and how long to retain it.
type StrimTarget struct {
	Bucket                 string  `json:"bucket"`
	Endpoint               string  `json:"endpoint"`
	Region                 string  `json:"region"`
	Secret                 string  `json:"secret"`
	KeyPrefix              string  `json:"keyPrefix"`
	DeleteOldSegmentsAfter *string `json:"deleteOldSegmentsAfter,omitempty"`
}

// StrimSpec is the desired state of a Strim, written once by ingestd
// and never mutated afterwards (ingestd deletes and recreates instead
// of patching the spec).
type StrimSpec struct {
	Source     StrimSource `json:"source"`
	Target     StrimTarget `json:"target"`
	Transcribe bool        `json:"transcribe,omitempty"`
}

// StrimStatus is the observed state, written only by strim-reconciler.
type StrimStatus struct {
	Phase       StrimPhase `json:"phase,omitempty"`
	Message     string     `json:"message,omitempty"`
	LastUpdated string     `json:"lastUpdated,omitempty"`
}

// Strim is the CRD's Go representation: a Kubernetes object with spec
// and status, serialized exactly like any other apimachinery type so
// it can be converted to/from unstructured.Unstructured.
type Strim struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   StrimSpec   `json:"spec"`
	Status StrimStatus `json:"status,omitempty"`
}

// DeepCopyObject implements runtime.Object. There is no generated
// deepcopy-gen in this module, so it is written by hand; StrimSpec and
// StrimStatus contain no pointers or slices that alias shared memory
// aside from DeleteOldSegmentsAfter, which is copied explicitly.
func (s *Strim) DeepCopyObject() runtime.Object {
	out := *s
	out.ObjectMeta = *s.ObjectMeta.DeepCopy()
	if s.Spec.Target.DeleteOldSegmentsAfter != nil {
		v := *s.Spec.Target.DeleteOldSegmentsAfter
		out.Spec.Target.DeleteOldSegmentsAfter = &v
	}
	return &out
}

// StrimList is the list form required by runtime.Object conventions
// for list operations against the dynamic client.
type StrimList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Strim `json:"items"`
}

func (l *StrimList) DeepCopyObject() runtime.Object {
	out := *l
	out.Items = make([]Strim, len(l.Items))
	for i := range l.Items {
		copied := l.Items[i].DeepCopyObject().(*Strim)
		out.Items[i] = *copied
	}
	return &out
}
