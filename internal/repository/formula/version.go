package formula

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	// crates.io download endpoints: /api/v1/crates/<name>/<version>/download.
	crateAPIPattern = regexp.MustCompile(`/crates/[^/]+/([^/]+)/download$`)
	// A dotted version inside a file name: sigi-3.1.1.tar.gz, v2.0.tgz, tool_1.2.3-rc1.zip.
	fileVersionPattern = regexp.MustCompile(`(?:^|[-_v])(\d+(?:\.\d+)+(?:-[0-9A-Za-z.]+)?)$`)

	archiveSuffixes = []string{".tar.gz", ".tgz", ".tar", ".zip", ".crate"}
)

// VersionFromURL extracts a version from a source URL, or returns "" when none is visible.
func VersionFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	if match := crateAPIPattern.FindStringSubmatch(parsed.Path); match != nil {
		return match[1]
	}

	base := path.Base(parsed.Path)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)

			break
		}
	}

	if match := fileVersionPattern.FindStringSubmatch(base); match != nil {
		return match[1]
	}

	return ""
}
