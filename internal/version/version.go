package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// shortCommitLength is the number of SHA characters shown for VCS metadata.
const shortCommitLength = 7

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit, build time and Go version.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s, go: %s",
		Version, commit(), BuildTime, runtime.Version())
}

// Fields returns the build metadata as logger key-values.
func Fields() []any {
	return []any{"version", Version, "commit", commit()}
}

// commit falls back to the VCS revision recorded by the Go toolchain when
// no commit was injected through ldflags.
func commit() string {
	if Commit != "none" {
		return Commit
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= shortCommitLength {
			return setting.Value[:shortCommitLength]
		}
	}

	return Commit
}
