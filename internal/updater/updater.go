package updater

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"cfsupport/internal/logger"
	"cfsupport/internal/version"
)

const (
	defaultAPIBaseURL = "https://api.github.com"
	defaultOwner      = "codefresh-support"
	defaultRepo       = "codefresh-support-package"
	binaryName        = "cf-support"
)

// ErrNoAsset is returned when a release has no binary for the running platform.
var ErrNoAsset = errors.New("no asset for platform")

type Updater struct {
	apiBaseURL string
	repoOwner  string
	repoName   string
	client     *http.Client
	goos       string
	goarch     string
	executable func() (string, error)
}

type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	Assets      []Asset   `json:"assets"`
	PublishedAt time.Time `json:"published_at"`
}

type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// Version returns the release tag without its "v" prefix.
func (r *Release) Version() string {
	return strings.TrimPrefix(r.TagName, "v")
}

// New creates an updater for the published cf-support releases
func New(timeout time.Duration) *Updater {
	return &Updater{
		apiBaseURL: defaultAPIBaseURL,
		repoOwner:  defaultOwner,
		repoName:   defaultRepo,
		client: &http.Client{
			Timeout: timeout,
		},
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		executable: os.Executable,
	}
}

// SetRepository allows customizing the repository
func (u *Updater) SetRepository(owner, name string) {
	u.repoOwner = owner
	u.repoName = name
}

// LatestRelease fetches the latest release. It returns nil when the repository
// has no releases.
func (u *Updater) LatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", u.apiBaseURL, u.repoOwner, u.repoName)

	resp, err := u.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	return &release, nil
}

// CheckVersion reports whether a newer release than the running binary exists.
// Development builds never report an update.
func (u *Updater) CheckVersion(ctx context.Context) (*Release, bool, error) {
	release, err := u.LatestRelease(ctx)
	if err != nil {
		return nil, false, err
	}
	if release == nil {
		return nil, false, nil
	}

	current := version.Get()
	if current.IsDevelopment() {
		return release, false, nil
	}
	return release, strings.TrimPrefix(current.Version, "v") != release.Version(), nil
}

// Upgrade replaces the running executable with the latest release binary. It
// returns the installed release, or nil when already up to date.
func (u *Updater) Upgrade(ctx context.Context) (*Release, error) {
	log := logger.GetLoggerFromContext(ctx)

	release, available, err := u.CheckVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for updates: %w", err)
	}
	if !available {
		return nil, nil
	}

	asset, err := u.findAsset(release)
	if err != nil {
		return nil, fmt.Errorf("no compatible binary found for your platform (%s/%s): %w", u.goos, u.goarch, err)
	}
	log.WithFields(map[string]any{"asset": asset.Name, "version": release.Version()}).Info("Downloading release")

	currentExe, err := u.executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get current executable path: %w", err)
	}

	tempPath, err := u.download(ctx, asset, filepath.Dir(currentExe))
	if err != nil {
		return nil, fmt.Errorf("failed to download update: %w", err)
	}
	defer os.Remove(tempPath)

	if err := replaceExecutable(currentExe, tempPath); err != nil {
		return nil, fmt.Errorf("failed to replace executable: %w", err)
	}
	return release, nil
}

// findAsset finds the binary asset for the target platform
func (u *Updater) findAsset(release *Release) (*Asset, error) {
	platform := fmt.Sprintf("%s_%s", u.goos, u.goarch)

	platformMappings := map[string][]string{
		"darwin_amd64":  {"darwin_amd64", "macos_amd64", "darwin_x86_64"},
		"darwin_arm64":  {"darwin_arm64", "macos_arm64"},
		"linux_amd64":   {"linux_amd64", "linux_x86_64"},
		"linux_arm64":   {"linux_arm64", "linux_aarch64"},
		"windows_amd64": {"windows_amd64", "windows_x86_64"},
	}

	possibleNames := platformMappings[platform]
	if possibleNames == nil {
		possibleNames = []string{platform}
	}

	for i := range release.Assets {
		assetLower := strings.ToLower(release.Assets[i].Name)
		for _, possibleName := range possibleNames {
			if strings.Contains(assetLower, possibleName) {
				return &release.Assets[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w %s", ErrNoAsset, platform)
}

// download fetches the asset into an executable temp file in dir
func (u *Updater) download(ctx context.Context, asset *Asset, dir string) (string, error) {
	resp, err := u.get(ctx, asset.DownloadURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	var binary io.Reader = resp.Body
	switch {
	case strings.HasSuffix(asset.Name, ".tar.gz"), strings.HasSuffix(asset.Name, ".tgz"):
		binary, err = extractBinary(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to extract binary from archive: %w", err)
		}
	case strings.HasSuffix(asset.Name, ".gz"):
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to decompress gzip: %w", err)
		}
		defer gzReader.Close()
		binary = gzReader
	}

	tempFile, err := os.CreateTemp(dir, binaryName+"_update_*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(tempFile, binary); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to write downloaded file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return "", err
	}
	if err := os.Chmod(tempFile.Name(), 0o755); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to make file executable: %w", err)
	}
	return tempFile.Name(), nil
}

func (u *Updater) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	return u.client.Do(req)
}

// extractBinary returns the cf-support binary from a tar.gz archive
func extractBinary(reader io.Reader) (io.Reader, error) {
	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		return nil, err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		base := filepath.Base(header.Name)
		if header.Typeflag == tar.TypeReg && (base == binaryName || base == binaryName+".exe") {
			var buf strings.Builder
			if _, err := io.Copy(&buf, tarReader); err != nil {
				return nil, err
			}
			return strings.NewReader(buf.String()), nil
		}
	}
	return nil, fmt.Errorf("binary not found in archive")
}

// replaceExecutable swaps the executable at currentPath for newPath
func replaceExecutable(currentPath, newPath string) error {
	// A running executable cannot be overwritten on Windows, only renamed.
	if runtime.GOOS == "windows" {
		backupPath := currentPath + ".old"
		if err := os.Rename(currentPath, backupPath); err != nil {
			return fmt.Errorf("failed to backup current executable: %w", err)
		}
		if err := os.Rename(newPath, currentPath); err != nil {
			os.Rename(backupPath, currentPath)
			return fmt.Errorf("failed to move new executable: %w", err)
		}
		return nil
	}
	return os.Rename(newPath, currentPath)
}
