// Package version exposes build metadata for the installer binaries.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
// Short and Full render them for the CLI; UserAgent identifies the fetcher
// to upstream hosts.
package version
