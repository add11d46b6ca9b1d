package formula

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"path"
	"regexp"
	"strings"
)

// Phase tells when a dependency is needed.
type Phase string

const (
	// PhaseBuild dependencies must be on PATH while the build command runs.
	PhaseBuild Phase = "build"
	// PhaseRuntime dependencies are needed by the installed tool.
	PhaseRuntime Phase = "runtime"
	// PhaseTest dependencies are needed by the post-install check.
	PhaseTest Phase = "test"
)

// VersionPlaceholder is replaced by the descriptor version in the source URL.
const VersionPlaceholder = "{{version}}"

// SHA256HexLength is the length of a hex-encoded SHA-256 digest.
const SHA256HexLength = 64

// Dependency names another tool the formula needs in a given phase.
type Dependency struct {
	Name  string
	Phase Phase
}

// InstallStep copies one build output into a destination category.
type InstallStep struct {
	// Source is relative to the build directory.
	Source string
	// Category selects the destination directory.
	Category Category
	// As renames the artifact; empty keeps the source base name.
	As string
}

// TargetName returns the file name the artifact gets at its destination.
func (s InstallStep) TargetName() string {
	if s.As != "" {
		return s.As
	}

	return path.Base(s.Source)
}

// Signature points at a detached OpenPGP signature of the source archive.
type Signature struct {
	// URL of the detached signature, armored or binary.
	URL string
	// Keyring is a path to the public keyring trusted for this formula.
	Keyring string
}

// Descriptor is the static description of one installable tool.
// Values are treated as immutable once loaded; use Clone to get a private copy.
type Descriptor struct {
	Name        string
	Description string
	License     string
	Homepage    string
	Version     string
	// URL is the source archive location, possibly containing VersionPlaceholder.
	URL string
	// SHA256 is the expected hex digest of the archive at URL.
	SHA256 string
	// Head is an optional git URL of the development head.
	Head string
	// PURL identifies the package in receipts.
	PURL         string
	Signature    *Signature
	Dependencies []Dependency
	BuildCommand []string
	BuildEnv     map[string]string
	Install      []InstallStep
	TestCommand  []string
}

var (
	// ErrInvalidDescriptor is wrapped by every validation failure.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._+-]*$`)
)

// SourceURL returns URL with the version substituted.
func (d *Descriptor) SourceURL() string {
	return strings.ReplaceAll(d.URL, VersionPlaceholder, d.Version)
}

// DependenciesFor returns the dependencies needed in phase, in declaration order.
func (d *Descriptor) DependenciesFor(phase Phase) []Dependency {
	var deps []Dependency

	for _, dep := range d.Dependencies {
		if dep.Phase == phase {
			deps = append(deps, dep)
		}
	}

	return deps
}

// ExpectedDigest decodes SHA256.
func (d *Descriptor) ExpectedDigest() ([]byte, error) {
	digest, err := hex.DecodeString(strings.ToLower(d.SHA256))
	if err != nil {
		return nil, fmt.Errorf("%w: sha256: %w", ErrInvalidDescriptor, err)
	}

	return digest, nil
}

// Clone returns a deep copy so the pipeline never shares slices with the caller.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}

	cloned := *d

	if d.Signature != nil {
		signature := *d.Signature
		cloned.Signature = &signature
	}

	cloned.Dependencies = append([]Dependency(nil), d.Dependencies...)
	cloned.BuildCommand = append([]string(nil), d.BuildCommand...)
	cloned.Install = append([]InstallStep(nil), d.Install...)
	cloned.TestCommand = append([]string(nil), d.TestCommand...)

	if d.BuildEnv != nil {
		cloned.BuildEnv = maps.Clone(d.BuildEnv)
	}

	return &cloned
}

// Validate checks the structural invariants of the descriptor.
//
//nolint:cyclop // A flat list of checks reads better than helpers here.
func (d *Descriptor) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return invalid("name %q must match %s", d.Name, namePattern)
	}

	if d.URL == "" {
		return invalid("url is required")
	}

	if strings.Contains(d.URL, VersionPlaceholder) && d.Version == "" {
		return invalid("url uses %s but no version is known", VersionPlaceholder)
	}

	if len(d.SHA256) != SHA256HexLength {
		return invalid("sha256 must be %d hex characters, got %d", SHA256HexLength, len(d.SHA256))
	}

	if _, err := d.ExpectedDigest(); err != nil {
		return err
	}

	for _, dep := range d.Dependencies {
		if dep.Name == "" {
			return invalid("dependency without a name")
		}

		switch dep.Phase {
		case PhaseBuild, PhaseRuntime, PhaseTest:
		default:
			return invalid("dependency %s: unknown phase %q", dep.Name, dep.Phase)
		}
	}

	if len(d.BuildCommand) == 0 || d.BuildCommand[0] == "" {
		return invalid("build command is required")
	}

	if len(d.Install) == 0 {
		return invalid("at least one install step is required")
	}

	targets := make(map[string]string, len(d.Install))

	for _, step := range d.Install {
		if err := validateStep(step); err != nil {
			return err
		}

		target := path.Join(string(step.Category), step.TargetName())
		if first, seen := targets[target]; seen {
			return invalid("install %s: target %s already taken by %s", step.Source, target, first)
		}

		targets[target] = step.Source
	}

	if len(d.TestCommand) == 0 || d.TestCommand[0] == "" {
		return invalid("test command is required")
	}

	if d.Signature != nil && (d.Signature.URL == "" || d.Signature.Keyring == "") {
		return invalid("signature needs both url and keyring")
	}

	return nil
}

func validateStep(step InstallStep) error {
	if !step.Category.Valid() {
		return invalid("install %s: unknown category %q", step.Source, step.Category)
	}

	if step.Source == "" || path.IsAbs(step.Source) || strings.HasPrefix(step.Source, "\\") {
		return invalid("install source %q must be a relative path", step.Source)
	}

	cleaned := path.Clean(step.Source)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return invalid("install source %q escapes the build directory", step.Source)
	}

	if strings.ContainsAny(step.As, `/\`) || step.As == "." || step.As == ".." {
		return invalid("install %s: target name %q must be a plain file name", step.Source, step.As)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, args...))
}
