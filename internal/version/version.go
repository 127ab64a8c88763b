// Package version exposes the build information stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X cfsupport/internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the build information recorded in every support bundle.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// IsDevelopment reports whether the binary was built without a release version.
func (i Info) IsDevelopment() bool {
	return i.Version == "dev"
}

func (i Info) String() string {
	return fmt.Sprintf("cf-support %s (commit %s, built %s, %s %s)", i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}
