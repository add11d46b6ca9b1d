package formula

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/github/go-spdx/v2/spdxexp"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
	"github.com/oshokin/formula-install/internal/logger"
	"github.com/oshokin/formula-install/internal/platform"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither YAML nor Lua.
	ErrUnsupportedFormat = errors.New("unsupported descriptor format")
	// ErrNotFound is returned when the descriptor file does not exist.
	ErrNotFound = errors.New("descriptor not found")

	errInvalidLicense = errors.New("invalid SPDX license expression")
	errInvalidURL     = errors.New("invalid url")
)

// Loader reads descriptors. The zero value loads YAML and Lua without a platform table.
type Loader struct {
	// Detector feeds the Lua platform table; nil leaves it out.
	Detector platform.Detector
}

// NewLoader creates a loader that exposes detector facts to Lua descriptors.
func NewLoader(detector platform.Detector) *Loader {
	return &Loader{
		Detector: detector,
	}
}

// Load reads, finishes and validates the descriptor at path.
func (l *Loader) Load(ctx context.Context, path string) (*domain.Descriptor, error) {
	path = filepath.Clean(path)

	descriptor, err := l.Parse(ctx, path)
	if err != nil {
		return nil, err
	}

	if err = Finish(descriptor); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logger.DebugKV(ctx, "Loaded descriptor",
		"path", path, "name", descriptor.Name, "version", descriptor.Version, "purl", descriptor.PURL)

	return descriptor, nil
}

// Parse reads the descriptor at path without validating it.
// A relative signature keyring is resolved against the descriptor's directory.
func (l *Loader) Parse(ctx context.Context, path string) (*domain.Descriptor, error) {
	path = filepath.Clean(path)

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}

		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	var descriptor *domain.Descriptor

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		descriptor, err = ParseYAML(contents)
	case ".lua":
		descriptor, err = l.ParseLua(ctx, string(contents))
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if descriptor.Signature != nil && descriptor.Signature.Keyring != "" &&
		!filepath.IsAbs(descriptor.Signature.Keyring) {
		descriptor.Signature.Keyring = filepath.Join(filepath.Dir(path), descriptor.Signature.Keyring)
	}

	return descriptor, nil
}

// Finish fills derived fields and validates the descriptor.
func Finish(d *domain.Descriptor) error {
	if d.Version == "" {
		d.Version = VersionFromURL(d.URL)
	}

	if err := d.Validate(); err != nil {
		return err
	}

	if err := validateLicense(d.License); err != nil {
		return err
	}

	if err := validateURLs(d); err != nil {
		return err
	}

	if d.PURL == "" {
		d.PURL = DerivePURL(d)
	} else if err := validatePURL(d.PURL); err != nil {
		return err
	}

	return nil
}

func validateLicense(expression string) error {
	if expression == "" {
		return nil
	}

	if valid, invalid := spdxexp.ValidateLicenses([]string{expression}); !valid {
		return fmt.Errorf("%w: %w: %s", domain.ErrInvalidDescriptor, errInvalidLicense, strings.Join(invalid, ", "))
	}

	return nil
}

func validateURLs(d *domain.Descriptor) error {
	if err := checkHTTPURL("url", d.SourceURL()); err != nil {
		return err
	}

	if d.Homepage != "" {
		if err := checkHTTPURL("homepage", d.Homepage); err != nil {
			return err
		}
	}

	if d.Signature != nil {
		if err := checkHTTPURL("signature url", d.Signature.URL); err != nil {
			return err
		}
	}

	if d.Head != "" && !strings.HasPrefix(d.Head, "git@") {
		parsed, err := url.Parse(d.Head)
		if err != nil {
			return fmt.Errorf("%w: %w: head: %w", domain.ErrInvalidDescriptor, errInvalidURL, err)
		}

		switch parsed.Scheme {
		case "http", "https", "ssh", "git", "file":
		default:
			return fmt.Errorf("%w: %w: head: unsupported scheme %q", domain.ErrInvalidDescriptor, errInvalidURL, parsed.Scheme)
		}
	}

	return nil
}

func checkHTTPURL(field, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w: %s: %w", domain.ErrInvalidDescriptor, errInvalidURL, field, err)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: %w: %s %q must be an absolute http(s) url", domain.ErrInvalidDescriptor, errInvalidURL, field, raw)
	}

	return nil
}
