package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time with -ldflags.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String is the one-line build summary printed by `skillbet version` and logged on start.
func String() string {
	return fmt.Sprintf("skillbet %s (%s, built %s)", Version, Commit, BuildDate)
}
