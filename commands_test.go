package main

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	apiextensionsfake "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/fake"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"cfsupport/internal/bundle"
	"cfsupport/internal/codefresh"
	"cfsupport/internal/collector"
	"cfsupport/internal/config"
	"cfsupport/internal/kube"
)

func fakeClients(objects ...runtime.Object) *kube.Clients {
	return &kube.Clients{
		Core:       fake.NewSimpleClientset(objects...),
		Dynamic:    dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()),
		Extensions: apiextensionsfake.NewSimpleClientset(),
		Context:    "kind-test",
	}
}

func clusterObjects() []runtime.Object {
	return []runtime.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "team-a"}},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "api-0", Namespace: "team-a"},
			Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "api"}}},
		},
	}
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		OutputDir:    t.TempDir(),
		Workers:      4,
		FetchTimeout: 5 * time.Second,
		HTTPTimeout:  5 * time.Second,
		Codefresh:    config.CodefreshConfig{ConfigPath: filepath.Join(t.TempDir(), "missing-cfconfig")},
	}
}

func archiveEntries(t *testing.T, archive string) []string {
	t.Helper()
	names, err := bundle.List(archive)
	if err != nil {
		t.Fatalf("listing %s: %v", archive, err)
	}
	root := strings.TrimSuffix(filepath.Base(archive), ".tar.gz") + "/"
	for i, name := range names {
		if !strings.HasPrefix(name, root) {
			t.Fatalf("entry %q is not under %q", name, root)
		}
		names[i] = strings.TrimPrefix(name, root)
	}
	return names
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestCollect_ProducesArchive(t *testing.T) {
	c := testConfig(t)
	var out bytes.Buffer

	archive, err := collect(context.Background(), fakeClients(clusterObjects()...), c, collectionRequest{
		Command:   "gitops",
		Profile:   collector.ProfileGitOps,
		Namespace: "team-a",
		Documents: []document{{Name: "extra.yaml", Value: map[string]string{"source": "test"}}},
	}, bufio.NewReader(strings.NewReader("")), &out)
	if err != nil {
		t.Fatalf("collect: %v\n%s", err, out.String())
	}

	if filepath.Dir(archive) != c.OutputDir {
		t.Errorf("archive %s not written to %s", archive, c.OutputDir)
	}
	if !strings.HasPrefix(filepath.Base(archive), "cf-support-gitops-") {
		t.Errorf("unexpected archive name %s", archive)
	}

	entries := archiveEntries(t, archive)
	for _, want := range []string{
		"",
		bundle.ResourcesFile,
		bundle.SummaryFile,
		bundle.MetadataFile,
		bundle.MetricsFile,
		"cf-support.log",
		"extra.yaml",
		"logs/api-0/api.log",
		"manifests/pods/api-0.yaml",
		"manifests/pods/api-0.describe.txt",
		"manifests/pods/_PodList.txt",
	} {
		if !contains(entries, want) {
			t.Errorf("archive missing %q; entries: %v", want, entries)
		}
	}

	leftovers, _ := os.ReadDir(c.OutputDir)
	if len(leftovers) != 1 {
		t.Errorf("expected only the archive in the output directory, found %d entries", len(leftovers))
	}
	if !strings.Contains(out.String(), "Support package created") {
		t.Errorf("missing completion message:\n%s", out.String())
	}
}

func TestCollect_PromptsForNamespace(t *testing.T) {
	c := testConfig(t)
	var out bytes.Buffer

	archive, err := collect(context.Background(), fakeClients(clusterObjects()...), c, collectionRequest{
		Command: "oss",
		Profile: collector.ProfileOSS,
	}, bufio.NewReader(strings.NewReader("2\n")), &out)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !strings.Contains(out.String(), "Selected: team-a") {
		t.Errorf("expected team-a to be selected:\n%s", out.String())
	}
	if !contains(archiveEntries(t, archive), "logs/api-0/api.log") {
		t.Error("expected logs from the selected namespace")
	}
}

func TestCollect_MissingNamespace(t *testing.T) {
	c := testConfig(t)

	_, err := collect(context.Background(), fakeClients(clusterObjects()...), c, collectionRequest{
		Command:   "gitops",
		Profile:   collector.ProfileGitOps,
		Namespace: "nope",
	}, bufio.NewReader(strings.NewReader("")), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected a missing namespace error, got %v", err)
	}

	entries, _ := os.ReadDir(c.OutputDir)
	if len(entries) != 0 {
		t.Errorf("nothing should be written for a missing namespace, found %d entries", len(entries))
	}
}

func TestCollect_CancelledSkipsPackaging(t *testing.T) {
	c := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := collect(ctx, fakeClients(clusterObjects()...), c, collectionRequest{
		Command:   "gitops",
		Profile:   collector.ProfileGitOps,
		Namespace: "team-a",
	}, bufio.NewReader(strings.NewReader("")), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("expected an interrupted error, got %v", err)
	}

	archives, _ := filepath.Glob(filepath.Join(c.OutputDir, "*.tar.gz"))
	if len(archives) != 0 {
		t.Errorf("no archive should be created, found %v", archives)
	}
}

func TestRunCheck(t *testing.T) {
	var out bytes.Buffer
	if err := runCheck(context.Background(), fakeClients(clusterObjects()...), testConfig(t), "team-a", &out); err != nil {
		t.Fatalf("runCheck: %v", err)
	}

	report := out.String()
	for _, want := range []string{
		"Connected to kind-test",
		"2 namespaces visible",
		"Namespace 'team-a' exists",
		"rollouts.argoproj.io not installed",
		"0/15 definitions installed",
		"no Codefresh credentials found",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func newControlPlane(t *testing.T, routes map[string]string) *codefresh.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.EscapedPath()]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return codefresh.NewClient(codefresh.Credentials{BaseURL: server.URL + "/api"}, 5*time.Second)
}

func TestSelectPipelinesRuntime(t *testing.T) {
	client := newControlPlane(t, map[string]string{
		"/api/runtime-environments":      `[{"metadata":{"name":"dev"}},{"metadata":{"name":"prod"}}]`,
		"/api/runtime-environments/prod": `{"metadata":{"name":"prod"},"runtimeScheduler":{"cluster":{"namespace":"cf-prod"}}}`,
	})

	t.Run("prompted", func(t *testing.T) {
		spec, err := selectPipelinesRuntime(context.Background(), client, "", bufio.NewReader(strings.NewReader("2\n")), &bytes.Buffer{})
		if err != nil {
			t.Fatalf("selectPipelinesRuntime: %v", err)
		}
		if spec.Name != "prod" || spec.Namespace != "cf-prod" {
			t.Errorf("unexpected spec %+v", spec)
		}
	})

	t.Run("named", func(t *testing.T) {
		spec, err := selectPipelinesRuntime(context.Background(), client, "prod", nil, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("selectPipelinesRuntime: %v", err)
		}
		if spec.Namespace != "cf-prod" {
			t.Errorf("namespace = %q, want cf-prod", spec.Namespace)
		}
	})

	t.Run("unknown runtime", func(t *testing.T) {
		if _, err := selectPipelinesRuntime(context.Background(), client, "missing", nil, &bytes.Buffer{}); err == nil {
			t.Fatal("expected an error for an unknown runtime")
		}
	})
}

func TestOnPremDocuments_SkipsFailures(t *testing.T) {
	client := newControlPlane(t, map[string]string{
		"/api/admin/accounts": `[{"name":"acme"}]`,
		"/api/admin/user":     `{"total":42,"docs":[]}`,
	})

	docs := onPremDocuments(context.Background(), client)

	var names []string
	for _, d := range docs {
		names = append(names, d.Name)
	}
	if len(docs) != 2 || names[0] != "onprem-accounts.yaml" || names[1] != "onprem-total-users.yaml" {
		t.Fatalf("unexpected documents %v", names)
	}
	if users, ok := docs[1].Value.(codefresh.TotalUsers); !ok || users.TotalUsers != 42 {
		t.Errorf("unexpected total users %#v", docs[1].Value)
	}
}

func TestPipelinesPrompts_ShareInput(t *testing.T) {
	client := newControlPlane(t, map[string]string{
		"/api/runtime-environments":     `[{"metadata":{"name":"dev"}},{"metadata":{"name":"prod"}}]`,
		"/api/runtime-environments/dev": `{"metadata":{"name":"dev"}}`,
	})
	in := bufio.NewReader(strings.NewReader("1\n2\n"))
	var out bytes.Buffer

	spec, err := selectPipelinesRuntime(context.Background(), client, "", in, &out)
	if err != nil {
		t.Fatalf("selectPipelinesRuntime: %v", err)
	}
	if spec.Name != "dev" {
		t.Fatalf("runtime = %q, want dev", spec.Name)
	}

	namespace, err := resolveNamespace(context.Background(), fakeClients(clusterObjects()...), spec.Namespace, in, &out)
	if err != nil {
		t.Fatalf("resolveNamespace: %v\n%s", err, out.String())
	}
	if namespace != "team-a" {
		t.Errorf("namespace = %q, want team-a", namespace)
	}
}
