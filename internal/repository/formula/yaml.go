package formula

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
)

// document is the on-disk YAML shape of a descriptor.
type document struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	License      string        `yaml:"license"`
	Homepage     string        `yaml:"homepage"`
	Version      string        `yaml:"version"`
	URL          string        `yaml:"url"`
	SHA256       string        `yaml:"sha256"`
	Head         string        `yaml:"head"`
	PURL         string        `yaml:"purl"`
	Signature    *signature    `yaml:"signature"`
	Dependencies []dependency  `yaml:"dependencies"`
	Build        build         `yaml:"build"`
	Install      []installStep `yaml:"install"`
	Test         []string      `yaml:"test"`
}

type signature struct {
	URL     string `yaml:"url"`
	Keyring string `yaml:"keyring"`
}

type dependency struct {
	Name  string `yaml:"name"`
	Phase string `yaml:"phase"`
}

type build struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

type installStep struct {
	Source   string `yaml:"source"`
	Category string `yaml:"category"`
	As       string `yaml:"as"`
}

// ParseYAML decodes a YAML descriptor. Unknown keys are rejected so that a
// typo cannot silently drop an install step.
func ParseYAML(contents []byte) (*domain.Descriptor, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", domain.ErrInvalidDescriptor)
		}

		return nil, fmt.Errorf("%w: decode yaml: %w", domain.ErrInvalidDescriptor, err)
	}

	return doc.toDomain(), nil
}

func (doc *document) toDomain() *domain.Descriptor {
	d := &domain.Descriptor{
		Name:         doc.Name,
		Description:  doc.Description,
		License:      doc.License,
		Homepage:     doc.Homepage,
		Version:      doc.Version,
		URL:          doc.URL,
		SHA256:       doc.SHA256,
		Head:         doc.Head,
		PURL:         doc.PURL,
		BuildCommand: doc.Build.Command,
		BuildEnv:     doc.Build.Env,
		TestCommand:  doc.Test,
	}

	if doc.Signature != nil {
		d.Signature = &domain.Signature{
			URL:     doc.Signature.URL,
			Keyring: doc.Signature.Keyring,
		}
	}

	for _, dep := range doc.Dependencies {
		d.Dependencies = append(d.Dependencies, domain.Dependency{
			Name:  dep.Name,
			Phase: domain.Phase(dep.Phase),
		})
	}

	for _, step := range doc.Install {
		d.Install = append(d.Install, domain.InstallStep{
			Source:   step.Source,
			Category: domain.Category(step.Category),
			As:       step.As,
		})
	}

	return d
}
