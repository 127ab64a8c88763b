package kube

import (
	"context"
	"fmt"
	"sort"
	"time"

	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Clients bundles the read-only cluster handles used by a collection run.
type Clients struct {
	Core       kubernetes.Interface
	Dynamic    dynamic.Interface
	Extensions apiextensionsclientset.Interface
	Config     *rest.Config
	// Context is the kubeconfig context in use, empty when running in-cluster.
	Context string
}

// NewClients builds cluster clients from the given kubeconfig path. An empty path
// uses the default loading rules ($KUBECONFIG, ~/.kube/config) and falls back to
// the in-cluster service account.
func NewClients(kubeconfig string, timeout time.Duration) (*Clients, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("building cluster config: %w", err)
	}
	restConfig.Timeout = timeout

	core, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating dynamic client: %w", err)
	}

	extensions, err := apiextensionsclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating apiextensions client: %w", err)
	}

	var currentContext string
	if raw, err := kubeConfig.RawConfig(); err == nil {
		currentContext = raw.CurrentContext
	}

	return &Clients{
		Core:       core,
		Dynamic:    dynamicClient,
		Extensions: extensions,
		Config:     restConfig,
		Context:    currentContext,
	}, nil
}

// Ping verifies the API server is reachable and returns its version.
func (c *Clients) Ping() (*version.Info, error) {
	info, err := c.Core.Discovery().ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("cannot reach the Kubernetes API server: %w", err)
	}
	return info, nil
}

// ListNamespaces returns the sorted names of all namespaces in the cluster.
func (c *Clients) ListNamespaces(ctx context.Context) ([]string, error) {
	list, err := c.Core.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	sort.Strings(names)
	return names, nil
}

// NamespaceExists reports whether the namespace is present. Errors other than
// NotFound are returned to the caller.
func (c *Clients) NamespaceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.Core.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return true, nil
	}
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking namespace %s: %w", name, err)
}
