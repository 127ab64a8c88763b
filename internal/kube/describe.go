package kube

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/kubectl/pkg/describe"
)

// ErrNoDescriber is returned for kinds kubectl has no describer for.
var ErrNoDescriber = errors.New("no describer for kind")

// ObjectDescriber renders the kubectl describe view of single objects.
type ObjectDescriber struct {
	typed    map[schema.GroupKind]describe.ResourceDescriber
	config   *rest.Config
	settings describe.DescriberSettings
}

// NewDescriber builds a describer over the clientset. Kinds outside the common
// core set are resolved through kubectl's registry, which needs config; with a
// nil config only the core set is available.
func NewDescriber(core kubernetes.Interface, config *rest.Config) *ObjectDescriber {
	return &ObjectDescriber{
		typed: map[schema.GroupKind]describe.ResourceDescriber{
			{Kind: "Pod"}:                   &describe.PodDescriber{Interface: core},
			{Kind: "Service"}:               &describe.ServiceDescriber{Interface: core},
			{Kind: "ServiceAccount"}:        &describe.ServiceAccountDescriber{Interface: core},
			{Kind: "ConfigMap"}:             &describe.ConfigMapDescriber{Interface: core},
			{Kind: "Node"}:                  &describe.NodeDescriber{Interface: core},
			{Kind: "PersistentVolume"}:      &describe.PersistentVolumeDescriber{Interface: core},
			{Kind: "PersistentVolumeClaim"}: &describe.PersistentVolumeClaimDescriber{Interface: core},
		},
		config:   config,
		settings: describe.DescriberSettings{ShowEvents: true, ChunkSize: 500},
	}
}

// Describe returns the describe output for the named object.
func (d *ObjectDescriber) Describe(gk schema.GroupKind, namespace, name string) (string, error) {
	describer, ok := d.typed[gk]
	if !ok && d.config != nil {
		describer, ok = describe.DescriberFor(gk, d.config)
	}
	if !ok {
		return "", fmt.Errorf("%w %s", ErrNoDescriber, gk)
	}

	out, err := describer.Describe(namespace, name, d.settings)
	if err != nil {
		return "", fmt.Errorf("describing %s %s/%s: %w", gk.Kind, namespace, name, err)
	}
	return out, nil
}
