package checksum

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	digestKey    = "sha256"
	urlKey       = "url"
	yamlIndent   = 2
	descriptorRW = 0o644
)

// WriteDigest sets the top-level sha256 of the YAML descriptor at path.
// Comments and key order survive; the key is added after url when absent.
func WriteDigest(path, digest string) error {
	path = filepath.Clean(path)

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}

	updated, err := setDigest(contents, digest)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode == 0 {
		mode = descriptorRW
	}

	temporary := path + ".tmp"
	if err = os.WriteFile(temporary, updated, mode); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}

	if err = os.Rename(temporary, path); err != nil {
		_ = os.Remove(temporary)

		return fmt.Errorf("replace descriptor: %w", err)
	}

	return nil
}

func setDigest(contents []byte, digest string) ([]byte, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}

	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 ||
		document.Content[0].Kind != yaml.MappingNode {
		return nil, errNoDigestField
	}

	mapping := document.Content[0]
	value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: digest}

	insertAt := len(mapping.Content)

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		switch mapping.Content[i].Value {
		case digestKey:
			existing := mapping.Content[i+1]
			existing.Kind = yaml.ScalarNode
			existing.Tag = "!!str"
			existing.Value = digest
			existing.Style = 0
			existing.Content = nil

			return encode(&document)
		case urlKey:
			insertAt = i + 2
		}
	}

	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: digestKey}
	mapping.Content = slices.Insert(mapping.Content, insertAt, key, value)

	return encode(&document)
}

func encode(document *yaml.Node) ([]byte, error) {
	var buffer bytes.Buffer

	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(yamlIndent)

	if err := encoder.Encode(document); err != nil {
		return nil, err
	}

	if err := encoder.Close(); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}
