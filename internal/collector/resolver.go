package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ErrNotFound is returned when a resource type is not installed or not served.
var ErrNotFound = errors.New("not found")

// ServedVersion describes where instances of a custom resource are listed.
type ServedVersion struct {
	Group      string
	Version    string
	Plural     string
	Namespaced bool
}

// GroupVersionResource returns the dynamic client coordinates.
func (v ServedVersion) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: v.Group, Version: v.Version, Resource: v.Plural}
}

// Resolver finds the served version of custom resource definitions. Successful
// lookups are cached for the lifetime of the resolver, which is one run.
type Resolver struct {
	client apiextensionsclientset.Interface

	mu    sync.Mutex
	cache map[string]ServedVersion
}

// NewResolver creates a resolver backed by the apiextensions client.
func NewResolver(client apiextensionsclientset.Interface) *Resolver {
	return &Resolver{client: client, cache: make(map[string]ServedVersion)}
}

// Resolve returns the first served version of the definition named typeName,
// in the order the definition declares its versions.
func (r *Resolver) Resolve(ctx context.Context, typeName string) (ServedVersion, error) {
	r.mu.Lock()
	cached, ok := r.cache[typeName]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	crd, err := r.client.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, typeName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return ServedVersion{}, fmt.Errorf("custom resource definition %s: %w", typeName, ErrNotFound)
		}
		return ServedVersion{}, fmt.Errorf("getting custom resource definition %s: %w", typeName, err)
	}

	served, err := firstServed(crd)
	if err != nil {
		return ServedVersion{}, err
	}

	r.mu.Lock()
	r.cache[typeName] = served
	r.mu.Unlock()
	return served, nil
}

func firstServed(crd *apiextensionsv1.CustomResourceDefinition) (ServedVersion, error) {
	for _, v := range crd.Spec.Versions {
		if v.Served {
			return ServedVersion{
				Group:      crd.Spec.Group,
				Version:    v.Name,
				Plural:     crd.Spec.Names.Plural,
				Namespaced: crd.Spec.Scope == apiextensionsv1.NamespaceScoped,
			}, nil
		}
	}
	return ServedVersion{}, fmt.Errorf("custom resource definition %s has no served version: %w", crd.Name, ErrNotFound)
}
