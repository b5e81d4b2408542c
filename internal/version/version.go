// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for --version and logs.
func String() string {
	return fmt.Sprintf("passthrough %s (%s, built %s)", Version, GitSHA, BuildTime)
}
