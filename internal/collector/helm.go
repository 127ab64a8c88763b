package collector

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// HelmOwnerSelector matches the secrets Helm 3 stores releases in.
const HelmOwnerSelector = "owner=helm"

var gzipMagic = []byte{0x1f, 0x8b, 0x08}

// HelmRelease summarizes one stored release revision. Chart values are never decoded.
type HelmRelease struct {
	Name         string `json:"name"`
	Namespace    string `json:"namespace"`
	Revision     int    `json:"revision"`
	Status       string `json:"status,omitempty"`
	Chart        string `json:"chart,omitempty"`
	ChartVersion string `json:"chartVersion,omitempty"`
	AppVersion   string `json:"appVersion,omitempty"`
	LastDeployed string `json:"lastDeployed,omitempty"`
	Secret       string `json:"secret"`
	Error        string `json:"error,omitempty"`
}

// helmPayload is the subset of the Helm release record read from storage.
type helmPayload struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Version   int    `json:"version"`
	Info      struct {
		Status       string `json:"status"`
		LastDeployed string `json:"last_deployed"`
	} `json:"info"`
	Chart struct {
		Metadata struct {
			Name       string `json:"name"`
			Version    string `json:"version"`
			AppVersion string `json:"appVersion"`
		} `json:"metadata"`
	} `json:"chart"`
}

// HelmReleases lists the Helm release secrets of a namespace and decodes their
// summaries, ordered by release name then revision.
func HelmReleases(ctx context.Context, core kubernetes.Interface, namespace string) ([]HelmRelease, error) {
	secrets, err := core.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{LabelSelector: HelmOwnerSelector})
	if err != nil {
		return nil, fmt.Errorf("listing helm release secrets in namespace %s: %w", namespace, err)
	}

	releases := make([]HelmRelease, 0, len(secrets.Items))
	for i := range secrets.Items {
		releases = append(releases, summarizeRelease(&secrets.Items[i]))
	}
	sort.SliceStable(releases, func(i, j int) bool {
		if releases[i].Name != releases[j].Name {
			return releases[i].Name < releases[j].Name
		}
		return releases[i].Revision < releases[j].Revision
	})
	return releases, nil
}

func summarizeRelease(secret *corev1.Secret) HelmRelease {
	summary := HelmRelease{
		Name:      secret.Labels["name"],
		Namespace: secret.Namespace,
		Status:    secret.Labels["status"],
		Secret:    secret.Name,
	}
	if rev, err := strconv.Atoi(secret.Labels["version"]); err == nil {
		summary.Revision = rev
	}

	payload, err := decodeRelease(secret.Data["release"])
	if err != nil {
		summary.Error = err.Error()
		return summary
	}

	if payload.Name != "" {
		summary.Name = payload.Name
	}
	if payload.Namespace != "" {
		summary.Namespace = payload.Namespace
	}
	if payload.Version != 0 {
		summary.Revision = payload.Version
	}
	if payload.Info.Status != "" {
		summary.Status = payload.Info.Status
	}
	summary.LastDeployed = payload.Info.LastDeployed
	summary.Chart = payload.Chart.Metadata.Name
	summary.ChartVersion = payload.Chart.Metadata.Version
	summary.AppVersion = payload.Chart.Metadata.AppVersion
	return summary
}

// decodeRelease reverses Helm's storage encoding: base64 text of an optionally
// gzipped JSON document.
func decodeRelease(data []byte) (*helmPayload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("release secret has no release data")
	}
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decoding release data: %w", err)
	}

	if bytes.HasPrefix(raw, gzipMagic) {
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("opening compressed release: %w", err)
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decompressing release: %w", err)
		}
	}

	var payload helmPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parsing release: %w", err)
	}
	return &payload, nil
}
