package common

import "fmt"

// Version information, set via -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}

// GetFullVersion returns the version with the commit it was built from.
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit: %s)", Version, GitCommit)
}
