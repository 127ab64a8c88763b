package bundle

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	g := NewWithT(t)

	work := t.TempDir()
	source := filepath.Join(work, "cf-support-gitops-1714557600")
	files := map[string]string{
		"resources.yaml":                  "pods: []\n",
		"logs/api-0/api.log":              "2024-05-01T10:00:00Z started\n",
		"manifests/nodes/node-1.yaml":     "metadata:\n  name: node-1\n",
		"manifests/empty-dir/.keep":       "",
		"nested/deeper/still/binary.data": string([]byte{0x00, 0x1f, 0x8b, 0xff}),
	}
	writeTree(t, source, files)

	out := filepath.Join(work, "out.tar.gz")
	g.Expect(Archive(out, source)).To(Succeed())

	names, err := List(out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(names).To(ContainElement("cf-support-gitops-1714557600/"))
	g.Expect(names).To(ContainElement("cf-support-gitops-1714557600/logs/api-0/api.log"))
	for _, name := range names {
		g.Expect(name).To(HavePrefix("cf-support-gitops-1714557600/"))
	}

	dest := t.TempDir()
	g.Expect(Extract(out, dest)).To(Succeed())
	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dest, "cf-support-gitops-1714557600", filepath.FromSlash(name)))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(string(data)).To(Equal(content), name)
	}
}

func TestArchive_NotADirectory(t *testing.T) {
	g := NewWithT(t)
	work := t.TempDir()

	file := filepath.Join(work, "notadir-but-a-file")
	g.Expect(os.WriteFile(file, []byte("x"), 0o644)).To(Succeed())

	tests := []struct {
		name   string
		source string
	}{
		{"regular file", file},
		{"missing path", filepath.Join(work, "missing")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			out := filepath.Join(work, tt.name+".tar.gz")

			err := Archive(out, tt.source)
			g.Expect(err).To(MatchError(ErrNotADirectory))
			_, statErr := os.Stat(out)
			g.Expect(os.IsNotExist(statErr)).To(BeTrue(), "no archive should be written")
		})
	}
}

func TestArchive_OutputInsideSource(t *testing.T) {
	g := NewWithT(t)
	source := filepath.Join(t.TempDir(), "bundle")
	writeTree(t, source, map[string]string{"a.txt": "a"})

	out := filepath.Join(source, "bundle.tar.gz")
	g.Expect(Archive(out, source)).To(Succeed())

	names, err := List(out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(names).NotTo(ContainElement("bundle/bundle.tar.gz"))
	g.Expect(names).To(ContainElement("bundle/a.txt"))
}

func TestList_NotAnArchive(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "plain.txt")
	g.Expect(os.WriteFile(path, []byte("plain"), 0o644)).To(Succeed())

	_, err := List(path)
	g.Expect(err).To(HaveOccurred())
}
