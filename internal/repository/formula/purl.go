package formula

import (
	"fmt"
	"net/url"
	"strings"

	packageurl "github.com/package-url/packageurl-go"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
)

// DerivePURL builds a package URL from the descriptor's source location.
// crates.io sources become pkg:cargo, GitHub sources pkg:github, anything else
// pkg:generic with the download url as a qualifier.
func DerivePURL(d *domain.Descriptor) string {
	source := d.SourceURL()

	parsed, err := url.Parse(source)
	if err == nil {
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")

		switch {
		case parsed.Host == "crates.io" || parsed.Host == "static.crates.io":
			return packageurl.NewPackageURL(packageurl.TypeCargo, "", d.Name, d.Version, nil, "").ToString()
		case parsed.Host == "github.com" && len(segments) >= 2:
			repository := strings.TrimSuffix(segments[1], ".git")

			return packageurl.NewPackageURL(packageurl.TypeGithub, segments[0], repository, d.Version, nil, "").ToString()
		}
	}

	qualifiers := packageurl.Qualifiers{
		{Key: "download_url", Value: source},
	}

	return packageurl.NewPackageURL(packageurl.TypeGeneric, "", d.Name, d.Version, qualifiers, "").ToString()
}

func validatePURL(raw string) error {
	if _, err := packageurl.FromString(raw); err != nil {
		return fmt.Errorf("%w: purl: %w", domain.ErrInvalidDescriptor, err)
	}

	return nil
}
