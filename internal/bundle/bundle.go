package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/duration"
	"k8s.io/cli-runtime/pkg/printers"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/yaml"

	"cfsupport/internal/collector"
	"cfsupport/internal/kube"
	"cfsupport/internal/version"
)

const (
	ResourcesFile = "resources.yaml"
	SummaryFile   = "summary.yaml"
	MetadataFile  = "metadata.yaml"
	MetricsFile   = "metrics.prom"
	ManifestsDir  = "manifests"
	LogsDir       = "logs"
)

// Bundle is a support bundle being assembled in a working directory.
type Bundle struct {
	// Dir is the working directory; its base name is the archive root.
	Dir   string
	Name  string
	RunID string

	// Describer, when set, adds a describe view next to each manifest.
	Describer Describer

	outputDir string
	createdAt time.Time
}

// Describer renders the describe view of a single object. Kinds reported with
// kube.ErrNoDescriber are skipped.
type Describer interface {
	Describe(gk schema.GroupKind, namespace, name string) (string, error)
}

// Metadata describes the run that produced a bundle.
type Metadata struct {
	RunID         string       `json:"runId"`
	Command       string       `json:"command"`
	Profile       string       `json:"profile,omitempty"`
	Namespace     string       `json:"namespace,omitempty"`
	KubeContext   string       `json:"kubeContext,omitempty"`
	ServerVersion string       `json:"serverVersion,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	Tool          version.Info `json:"tool"`
}

// New creates the working directory outputDir/name. Failing to create it is
// fatal for the run.
func New(outputDir, name string) (*Bundle, error) {
	dir := filepath.Join(outputDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating bundle directory %s: %w", dir, err)
	}
	return &Bundle{
		Dir:       dir,
		Name:      name,
		RunID:     uuid.NewString(),
		outputDir: outputDir,
		createdAt: time.Now().UTC(),
	}, nil
}

// Path joins elements onto the bundle directory.
func (b *Bundle) Path(elem ...string) string {
	return filepath.Join(append([]string{b.Dir}, elem...)...)
}

// WriteValue writes value as YAML at name inside the bundle.
func (b *Bundle) WriteValue(name string, value any) error {
	return WriteStructured(value, b.Path(name))
}

// WriteText writes text verbatim at name inside the bundle.
func (b *Bundle) WriteText(name, text string) error {
	path := b.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// WriteMetadata records the run metadata.
func (b *Bundle) WriteMetadata(m Metadata) error {
	m.RunID = b.RunID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = b.createdAt
	}
	m.Tool = version.Get()
	return b.WriteValue(MetadataFile, m)
}

// WriteCollection writes a collection result: the combined resources document,
// a summary, one manifest per object and one file per container log.
func (b *Bundle) WriteCollection(result *collector.Result) error {
	resources := NewOrderedMap()
	for _, o := range result.Outcomes {
		if o.Err != nil {
			resources.Set(o.Key, map[string]*collector.FetchError{"error": o.Err})
			continue
		}

		switch v := o.Value.(type) {
		case map[string]collector.PodLogBundle:
			refs, err := b.writePodLogs(v)
			if err != nil {
				return err
			}
			resources.Set(o.Key, refs)
			continue
		case runtime.Object:
			if err := b.writeManifests(o.Key, v); err != nil {
				return err
			}
		}
		resources.Set(o.Key, o.Value)
	}

	if err := b.WriteValue(ResourcesFile, resources); err != nil {
		return err
	}
	return b.WriteValue(SummaryFile, result.Summarize())
}

// writePodLogs writes logs/<pod>/<container>.log and returns the file
// references keyed by pod and container.
func (b *Bundle) writePodLogs(logs map[string]collector.PodLogBundle) (map[string]map[string]string, error) {
	refs := make(map[string]map[string]string, len(logs))
	for pod, containers := range logs {
		refs[pod] = make(map[string]string, len(containers))
		for container, log := range containers {
			rel := filepath.ToSlash(filepath.Join(LogsDir, safeName(pod), safeName(container)+".log"))
			if err := b.WriteText(rel, log.Text()); err != nil {
				return nil, fmt.Errorf("writing log for %s/%s: %w", pod, container, err)
			}
			refs[pod][container] = rel
		}
	}
	return refs, nil
}

// writeManifests writes manifests/<key>/<name>.yaml for every item of list,
// a _<Kind>List.txt listing and, with a Describer, <name>.describe.txt.
func (b *Bundle) writeManifests(key string, list runtime.Object) error {
	if !meta.IsListType(list) {
		return nil
	}
	items, err := meta.ExtractList(list)
	if err != nil {
		return fmt.Errorf("extracting %s items: %w", key, err)
	}
	if len(items) == 0 {
		return nil
	}

	dir := filepath.Join(ManifestsDir, key)
	listing := newKindListing(b.createdAt)
	var gk schema.GroupKind
	for _, item := range items {
		accessor, err := meta.Accessor(item)
		if err != nil {
			return fmt.Errorf("reading %s item metadata: %w", key, err)
		}
		data, err := yaml.Marshal(item)
		if err != nil {
			return fmt.Errorf("encoding %s/%s: %w", key, accessor.GetName(), err)
		}
		name := safeName(accessor.GetName())
		if err := b.WriteText(filepath.Join(dir, name+".yaml"), string(data)); err != nil {
			return err
		}
		listing.add(accessor)

		gk = groupKind(item)
		if b.Describer == nil || gk.Kind == "" {
			continue
		}
		text, err := b.Describer.Describe(gk, accessor.GetNamespace(), accessor.GetName())
		switch {
		case errors.Is(err, kube.ErrNoDescriber):
			continue
		case err != nil:
			text = fmt.Sprintf("Error: %v\n", err)
		}
		if err := b.WriteText(filepath.Join(dir, name+".describe.txt"), text); err != nil {
			return err
		}
	}

	kind := gk.Kind
	if kind == "" {
		kind = key
	}
	return b.WriteText(filepath.Join(dir, "_"+safeName(kind)+"List.txt"), listing.String())
}

// groupKind reads the kind from the object, falling back to the client-go
// scheme for typed objects returned without TypeMeta.
func groupKind(obj runtime.Object) schema.GroupKind {
	if gvk := obj.GetObjectKind().GroupVersionKind(); gvk.Kind != "" {
		return gvk.GroupKind()
	}
	gvks, _, err := scheme.Scheme.ObjectKinds(obj)
	if err != nil || len(gvks) == 0 {
		return schema.GroupKind{}
	}
	return gvks[0].GroupKind()
}

// kindListing is the kubectl get style table of one kind.
type kindListing struct {
	now  time.Time
	rows []metav1.Object
}

func newKindListing(now time.Time) *kindListing {
	return &kindListing{now: now}
}

func (l *kindListing) add(obj metav1.Object) {
	l.rows = append(l.rows, obj)
}

func (l *kindListing) String() string {
	namespaced := false
	for _, obj := range l.rows {
		if obj.GetNamespace() != "" {
			namespaced = true
			break
		}
	}

	var buf strings.Builder
	w := printers.GetNewTabWriter(&buf)
	if namespaced {
		fmt.Fprintln(w, "NAMESPACE\tNAME\tAGE")
	} else {
		fmt.Fprintln(w, "NAME\tAGE")
	}
	for _, obj := range l.rows {
		age := "<unknown>"
		if created := obj.GetCreationTimestamp(); !created.IsZero() {
			age = duration.HumanDuration(l.now.Sub(created.Time))
		}
		if namespaced {
			fmt.Fprintf(w, "%s\t%s\t%s\n", obj.GetNamespace(), obj.GetName(), age)
		} else {
			fmt.Fprintf(w, "%s\t%s\n", obj.GetName(), age)
		}
	}
	w.Flush()
	return buf.String()
}

// WriteMetrics writes the gathered metrics in the Prometheus text format.
func (b *Bundle) WriteMetrics(gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	f, err := os.Create(b.Path(MetricsFile))
	if err != nil {
		return fmt.Errorf("creating %s: %w", MetricsFile, err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", MetricsFile, err)
		}
	}
	return f.Close()
}

// Package archives the bundle next to its working directory, checks the
// archive can be read back and removes the working directory.
func (b *Bundle) Package() (string, error) {
	archivePath := filepath.Join(b.outputDir, b.Name+".tar.gz")
	if err := Archive(archivePath, b.Dir); err != nil {
		return "", err
	}

	entries, err := List(archivePath)
	if err != nil {
		return "", fmt.Errorf("verifying archive %s: %w", archivePath, err)
	}
	if len(entries) == 0 || entries[0] != b.Name+"/" {
		return "", fmt.Errorf("verifying archive %s: unexpected root entry", archivePath)
	}

	if err := os.RemoveAll(b.Dir); err != nil {
		return archivePath, fmt.Errorf("removing working directory %s: %w", b.Dir, err)
	}
	return archivePath, nil
}

// safeName keeps file names within their directory.
func safeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
