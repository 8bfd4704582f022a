// Package version holds build information injected with -ldflags.
package version

var (
	// Version is the semantic version of the build
	Version = "dev"
	// GitCommit is the commit the binary was built from
	GitCommit = "unknown"
	// BuildTime is the UTC build timestamp
	BuildTime = "unknown"
)

// UserAgent identifies csync to remote APIs
func UserAgent() string {
	return "csync/" + Version
}
