package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/formula-install/internal/logger"
	"github.com/oshokin/formula-install/internal/version"
)

// Config holds the settings shared by the installer binaries.
type Config struct {
	// Prefix is the root of the installed tree (bin/, share/man/...).
	Prefix string `yaml:"prefix"`
	// WorkDir is where per-run build workspaces are created.
	WorkDir string `yaml:"work_dir"`
	// LogLevel is the minimum level of log lines (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// Retries is the number of extra download attempts after a transient failure.
	Retries int `yaml:"retries"`
	// FetchTimeout bounds a single download; zero disables the bound.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// TestTimeout bounds the post-install check; zero disables the bound.
	TestTimeout time.Duration `yaml:"test_timeout"`
	// UserAgent is sent with every HTTP request.
	UserAgent string `yaml:"user_agent"`
	// BreakerThreshold is the number of consecutive failures that opens a host's circuit.
	// Zero selects DefaultBreakerThreshold and BreakerDisabled turns breaking off.
	BreakerThreshold int64 `yaml:"breaker_threshold"`
	// DependencyPaths maps a dependency name to the directory holding its executables.
	DependencyPaths map[string]string `yaml:"dependency_paths"`
}

const (
	// DefaultConfigFilename is the settings file looked up when --config is not given.
	DefaultConfigFilename = "formula-install.yaml"

	// DefaultFetchTimeout bounds a download when the settings do not say otherwise.
	DefaultFetchTimeout = 5 * time.Minute

	// DefaultBreakerThreshold opens a host's circuit after this many consecutive failures.
	DefaultBreakerThreshold = 3

	// BreakerDisabled as breaker_threshold never opens a circuit.
	BreakerDisabled = -1

	// DefaultDirPermissions is used for directories created under the prefix.
	DefaultDirPermissions = 0o755
)

var (
	errNegativeRetries   = errors.New("retries must not be negative")
	errNegativeTimeout   = errors.New("timeouts must not be negative")
	errUnknownLogLevel   = errors.New("unknown log level")
	errRelativeDepPath   = errors.New("dependency path must be absolute")
	errNegativeThreshold = errors.New("breaker threshold must be -1 (disabled) or more")
)

// Default returns settings with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Defaults cannot fail validation.
	_ = Validate(cfg)

	return cfg
}

// Load reads settings from path and validates them.
// A missing file yields an error wrapping os.ErrNotExist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault reads settings from path. When path is empty and the
// default settings file does not exist, defaults are returned instead.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if path != "" || !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return Default(), nil
}

// Validate checks the settings and fills in defaults for empty fields.
func Validate(cfg *Config) error {
	if cfg.Retries < 0 {
		return errNegativeRetries
	}

	if cfg.FetchTimeout < 0 || cfg.TestTimeout < 0 {
		return errNegativeTimeout
	}

	if cfg.BreakerThreshold < BreakerDisabled {
		return errNegativeThreshold
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%q: %w", cfg.LogLevel, errUnknownLogLevel)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix()
	}

	prefix, err := filepath.Abs(cfg.Prefix)
	if err != nil {
		return fmt.Errorf("resolve prefix: %w", err)
	}

	cfg.Prefix = prefix

	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}

	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent()
	}

	for name, dir := range cfg.DependencyPaths {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("%s: %s: %w", name, dir, errRelativeDepPath)
		}
	}

	return nil
}

// DefaultPrefix returns ~/.local, or /usr/local when the home directory is unknown.
func DefaultPrefix() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "/usr/local"
	}

	return filepath.Join(home, ".local")
}
