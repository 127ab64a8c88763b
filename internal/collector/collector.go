package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"

	"cfsupport/internal/kube"
	"cfsupport/internal/logger"
)

const (
	DefaultWorkers      = 4
	DefaultFetchTimeout = 45 * time.Second
)

// Options tune a Collector. Zero values select the defaults.
type Options struct {
	Workers      int
	FetchTimeout time.Duration
	// Catalog defaults to DefaultCatalog().
	Catalog   []Entry
	LogSource LogSource
	Metrics   *Metrics
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// Collector fetches every catalog entry for a namespace.
type Collector struct {
	clients      *kube.Clients
	catalog      []Entry
	workers      int
	fetchTimeout time.Duration
	logs         LogSource
	metrics      *Metrics
	clock        clock.PassiveClock
}

// New creates a collector over the given cluster clients.
func New(clients *kube.Clients, opts Options) *Collector {
	c := &Collector{
		clients:      clients,
		catalog:      opts.Catalog,
		workers:      opts.Workers,
		fetchTimeout: opts.FetchTimeout,
		logs:         opts.LogSource,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
	}
	if c.catalog == nil {
		c.catalog = DefaultCatalog()
	}
	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	if c.logs == nil {
		c.logs = NewLogSource(clients.Core)
	}
	return c
}

// Catalog returns the entries this collector fetches.
func (c *Collector) Catalog() []Entry {
	return c.catalog
}

// run carries the per-run state shared by the strategies.
type run struct {
	core     kubernetes.Interface
	dynamic  dynamic.Interface
	resolver *Resolver
	logs     LogSource

	// requestTimeout bounds each request of a request-scoped strategy.
	requestTimeout time.Duration
}

// Collect fetches every catalog entry and never fails as a whole: each entry
// yields either a value or a FetchError, in catalog order. Entries not yet
// started when ctx is cancelled are recorded as Cancelled; a started entry
// runs to completion or its own timeout.
func (c *Collector) Collect(ctx context.Context, namespace string) *Result {
	log := logger.GetLoggerFromContext(ctx).WithField("namespace", namespace)

	r := &run{
		core:     c.clients.Core,
		dynamic:  c.clients.Dynamic,
		resolver: NewResolver(c.clients.Extensions),
		logs:     c.logs,

		requestTimeout: c.fetchTimeout,
	}

	result := &Result{
		Namespace: namespace,
		Outcomes:  make([]Outcome, len(c.catalog)),
		StartedAt: c.clock.Now(),
	}

	log.WithField("entries", len(c.catalog)).Info("Collecting cluster resources")

	g := new(errgroup.Group)
	g.SetLimit(c.workers)
	for i, entry := range c.catalog {
		i, entry := i, entry
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				result.Outcomes[i] = Outcome{Key: entry.Key, Err: &FetchError{
					Key:     entry.Key,
					Reason:  ReasonCancelled,
					Message: fmt.Sprintf("collection cancelled before fetch started: %v", err),
					err:     err,
				}}
				c.metrics.observe(result.Outcomes[i], 0)
				return nil
			}
			result.Outcomes[i] = c.fetchEntry(ctx, r, entry, namespace, log)
			return nil
		})
	}
	// Goroutines always return nil.
	_ = g.Wait()

	result.FinishedAt = c.clock.Now()
	summary := result.Summarize()
	log.WithFields(logrus.Fields{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"duration":  summary.Duration,
	}).Info("Collection finished")
	return result
}

func (c *Collector) fetchEntry(ctx context.Context, r *run, entry Entry, namespace string, log logrus.FieldLogger) Outcome {
	fetchCtx, cancel := c.fetchContext(ctx, entry)
	defer cancel()

	start := c.clock.Now()
	value, err := entry.Strategy.fetch(fetchCtx, r, namespace)
	outcome := Outcome{Key: entry.Key, Duration: c.clock.Since(start)}

	entryLog := log.WithFields(logrus.Fields{"key": entry.Key, "duration": outcome.Duration.Round(time.Millisecond)})
	if err != nil {
		outcome.Err = NewFetchError(entry.Key, err)
		if outcome.Err.Reason == ReasonNotFound {
			entryLog.Debugf("Resource not present: %v", err)
		} else {
			entryLog.WithField("reason", outcome.Err.Reason).Warnf("Failed to fetch resource: %v", err)
		}
		c.metrics.observe(outcome, 0)
		return outcome
	}

	outcome.Value = value
	objects := countObjects(value)
	entryLog.WithField("objects", objects).Debug("Fetched resource")
	c.metrics.observe(outcome, objects)
	return outcome
}

// requestScoped is implemented by strategies that issue an unbounded number of
// requests and apply the fetch timeout to each of them.
type requestScoped interface {
	requestScoped() bool
}

// fetchContext detaches the entry from run cancellation. Request-scoped
// entries get no overall deadline; all others share one fetch timeout.
func (c *Collector) fetchContext(ctx context.Context, entry Entry) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s, ok := entry.Strategy.(requestScoped); ok && s.requestScoped() {
		return detached, func() {}
	}
	return context.WithTimeout(detached, c.fetchTimeout)
}

func countObjects(value any) int {
	switch v := value.(type) {
	case map[string]PodLogBundle:
		return len(v)
	case []HelmRelease:
		return len(v)
	case runtime.Object:
		return meta.LenList(v)
	}
	return 0
}

func (b BuiltinList) fetch(ctx context.Context, r *run, namespace string) (any, error) {
	if b.ClusterScoped {
		namespace = ""
	}
	return listBuiltin(ctx, r.core, b.Resource, namespace, metav1.ListOptions{LabelSelector: b.LabelSelector})
}

func (cr CustomResourceList) fetch(ctx context.Context, r *run, namespace string) (any, error) {
	served, err := r.resolver.Resolve(ctx, cr.Definition)
	if err != nil {
		return nil, err
	}

	resource := r.dynamic.Resource(served.GroupVersionResource())
	if served.Namespaced {
		return resource.Namespace(namespace).List(ctx, metav1.ListOptions{})
	}
	return resource.List(ctx, metav1.ListOptions{})
}

func (d DerivedAggregate) fetch(ctx context.Context, r *run, namespace string) (any, error) {
	switch d.Aggregate {
	case AggregateSortedEvents:
		return SortedEvents(ctx, r.core, namespace)
	case AggregatePodLogs:
		return namespacePodLogs(ctx, r.core, r.logs, namespace, r.requestTimeout)
	case AggregateHelmReleases:
		return HelmReleases(ctx, r.core, namespace)
	}
	return nil, fmt.Errorf("unknown aggregate %q", d.Aggregate)
}

func (d DerivedAggregate) requestScoped() bool {
	return d.Aggregate == AggregatePodLogs
}

// listBuiltin lists a native resource by its catalog name. An empty namespace
// lists across the cluster for cluster-scoped resources.
func listBuiltin(ctx context.Context, core kubernetes.Interface, resource, namespace string, opts metav1.ListOptions) (runtime.Object, error) {
	switch resource {
	case "configmaps":
		return core.CoreV1().ConfigMaps(namespace).List(ctx, opts)
	case "cronjobs.batch":
		return core.BatchV1().CronJobs(namespace).List(ctx, opts)
	case "daemonsets.apps":
		return core.AppsV1().DaemonSets(namespace).List(ctx, opts)
	case "deployments.apps":
		return core.AppsV1().Deployments(namespace).List(ctx, opts)
	case "jobs.batch":
		return core.BatchV1().Jobs(namespace).List(ctx, opts)
	case "nodes":
		return core.CoreV1().Nodes().List(ctx, opts)
	case "pods":
		return core.CoreV1().Pods(namespace).List(ctx, opts)
	case "serviceaccounts":
		return core.CoreV1().ServiceAccounts(namespace).List(ctx, opts)
	case "services":
		return core.CoreV1().Services(namespace).List(ctx, opts)
	case "statefulsets.apps":
		return core.AppsV1().StatefulSets(namespace).List(ctx, opts)
	case "persistentvolumeclaims":
		return core.CoreV1().PersistentVolumeClaims(namespace).List(ctx, opts)
	case "persistentvolumes":
		return core.CoreV1().PersistentVolumes().List(ctx, opts)
	case "storageclasses.storage.k8s.io":
		return core.StorageV1().StorageClasses().List(ctx, opts)
	}
	return nil, fmt.Errorf("unsupported builtin resource %q", resource)
}
