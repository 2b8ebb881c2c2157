package hermes

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version information for the dispatcher.
// These values are injected during build time via ldflags.
// The values below are fallbacks for development builds.
var (
	// Version is the semantic version.
	Version = "dev"

	// GitCommit is the git commit hash when the binary was built.
	GitCommit = "unknown"

	// BuildDate is the date when the binary was built.
	BuildDate = "unknown"
)

// VersionInfo contains detailed version information.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns detailed version information, falling back to the
// VCS data embedded by the Go toolchain.
func GetVersionInfo() *VersionInfo {
	info := &VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		info.Version = buildInfo.Main.Version
	}
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = setting.Value
				if len(info.GitCommit) > 12 {
					info.GitCommit = info.GitCommit[:12]
				}
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = setting.Value
			}
		case "vcs.modified":
			if setting.Value == "true" && !strings.HasSuffix(info.GitCommit, "-dirty") {
				info.GitCommit += "-dirty"
			}
		}
	}
	return info
}

// String returns a human-readable version string.
func (v *VersionInfo) String() string {
	return fmt.Sprintf("hermes %s (commit %s, built %s, %s %s)",
		v.Version, v.GitCommit, v.BuildDate, v.GoVersion, v.Platform)
}

// UserAgent returns the User-Agent sent to external services.
func (v *VersionInfo) UserAgent() string {
	return "hermes/" + v.Version
}
