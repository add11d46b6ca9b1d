package version

import "fmt"

// Product is the name reported in the User-Agent header.
const Product = "formula-install"

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.3.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("%s %s, commit: %s, built at: %s", Product, Version, Commit, BuildTime)
}

// UserAgent returns the User-Agent value sent with every download.
func UserAgent() string {
	return Product + "/" + Version
}
