// Package version holds build-time version information for the router
// binaries. The variables are injected at link time via -ldflags:
//
// -X github.com/tessera-ops/bedrock-router/internal/version.Version=v0.1.0
// -X github.com/tessera-ops/bedrock-router/internal/version.Commit=abc1234
// -X github.com/tessera-ops/bedrock-router/internal/version.Date=2026-08-01T00:00:00Z
//
// so local builds without ldflags still produce sensible output.
package version

import "fmt"

// Variables set at link time. Default to dev values.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a single-line human-readable version string.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// Short returns just the version tag, e.g. "v0.1.0" or "dev".
func Short() string {
	return Version
}
