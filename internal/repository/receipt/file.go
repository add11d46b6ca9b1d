package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/formula-install/internal/config"
	domain "github.com/oshokin/formula-install/internal/domain/formula"
)

// Repository defines persistence operations for receipts.
type Repository interface {
	Load(ctx context.Context, name string) (*domain.Receipt, error)
	Save(ctx context.Context, receipt *domain.Receipt) error
	Delete(ctx context.Context, name string) error
}

// FileRepository stores receipts as <dir>/<name>.yaml.
type FileRepository struct {
	// dir is the directory holding the receipt files.
	dir string
	// mu serializes access to the receipt files of this process.
	mu sync.Mutex
}

const filePermissions = 0o644

var (
	// ErrNotFound is returned when no receipt exists for the formula.
	ErrNotFound = errors.New("receipt not found")

	errEmptyName = errors.New("receipt name is empty")
)

// record is the on-disk YAML shape of a receipt.
type record struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	PURL        string            `yaml:"purl,omitempty"`
	SourceURL   string            `yaml:"source_url"`
	SHA256      string            `yaml:"sha256,omitempty"`
	Commit      string            `yaml:"commit,omitempty"`
	Head        bool              `yaml:"head"`
	InstallID   string            `yaml:"install_id"`
	InstalledAt time.Time         `yaml:"installed_at"`
	InstalledBy *actor            `yaml:"installed_by,omitempty"`
	Platform    string            `yaml:"platform,omitempty"`
	Files       map[string]string `yaml:"files"`
}

type actor struct {
	Hostname string `yaml:"hostname"`
	Username string `yaml:"username"`
}

// NewFileRepository creates a repository rooted at dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{
		dir: filepath.Clean(dir),
	}
}

// Path returns the receipt file of the formula name.
func (r *FileRepository) Path(name string) string {
	return filepath.Join(r.dir, name+".yaml")
}

// Load reads the receipt of the formula name.
func (r *FileRepository) Load(_ context.Context, name string) (*domain.Receipt, error) {
	if name == "" {
		return nil, errEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read receipt: %w", err)
	}

	var rec record
	if err = yaml.Unmarshal(contents, &rec); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	return fromRecord(&rec), nil
}

// Save writes the receipt through a temporary file so readers never see a partial document.
func (r *FileRepository) Save(_ context.Context, receipt *domain.Receipt) error {
	if receipt == nil || receipt.Name == "" {
		return errEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(toRecord(receipt))
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	if err = os.MkdirAll(r.dir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create receipt directory: %w", err)
	}

	temporary, err := os.CreateTemp(r.dir, "."+receipt.Name+"-*.yaml")
	if err != nil {
		return fmt.Errorf("create receipt file: %w", err)
	}

	defer func() {
		_ = os.Remove(temporary.Name())
	}()

	if _, err = temporary.Write(data); err != nil {
		_ = temporary.Close()

		return fmt.Errorf("write receipt: %w", err)
	}

	if err = temporary.Close(); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	if err = os.Chmod(temporary.Name(), filePermissions); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	if err = os.Rename(temporary.Name(), r.Path(receipt.Name)); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	return nil
}

// Delete removes the receipt of name; a missing receipt is not an error.
func (r *FileRepository) Delete(_ context.Context, name string) error {
	if name == "" {
		return errEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete receipt: %w", err)
	}

	return nil
}

func fromRecord(rec *record) *domain.Receipt {
	receipt := &domain.Receipt{
		Name:        rec.Name,
		Version:     rec.Version,
		PURL:        rec.PURL,
		SourceURL:   rec.SourceURL,
		SHA256:      rec.SHA256,
		Commit:      rec.Commit,
		Head:        rec.Head,
		InstallID:   rec.InstallID,
		InstalledAt: rec.InstalledAt,
		Platform:    rec.Platform,
		Files:       rec.Files,
	}

	if rec.InstalledBy != nil {
		receipt.InstalledBy = &domain.Actor{
			Hostname: rec.InstalledBy.Hostname,
			Username: rec.InstalledBy.Username,
		}
	}

	return receipt
}

func toRecord(receipt *domain.Receipt) *record {
	rec := &record{
		Name:        receipt.Name,
		Version:     receipt.Version,
		PURL:        receipt.PURL,
		SourceURL:   receipt.SourceURL,
		SHA256:      receipt.SHA256,
		Commit:      receipt.Commit,
		Head:        receipt.Head,
		InstallID:   receipt.InstallID,
		InstalledAt: receipt.InstalledAt.UTC(),
		Platform:    receipt.Platform,
		Files:       receipt.Files,
	}

	if receipt.InstalledBy != nil {
		rec.InstalledBy = &actor{
			Hostname: receipt.InstalledBy.Hostname,
			Username: receipt.InstalledBy.Username,
		}
	}

	return rec
}
