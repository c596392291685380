// Package version carries build metadata injected at link time via -ldflags.
package version

// These are overridden with -ldflags "-X github.com/fathomwave/sonartrack/version.version=...".
var (
	name    = "sonartrack"
	version = "dev"
	commit  = "unknown"
)

// Name returns the program name used in CLI banners.
func Name() string {
	return name
}

// Version returns the build version string.
func Version() string {
	return version
}

// Commit returns the short VCS commit the build was produced from.
func Commit() string {
	return commit
}
