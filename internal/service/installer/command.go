package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/formula-install/internal/config"
	domain "github.com/oshokin/formula-install/internal/domain/formula"
	"github.com/oshokin/formula-install/internal/logger"
	"github.com/oshokin/formula-install/internal/platform"
	"github.com/oshokin/formula-install/internal/repository/formula"
)

// RetriesUnset leaves the configured retry count alone.
const RetriesUnset = -1

var errNoDescriptors = errors.New("no descriptors given")

// Options are inputs accepted by the installer entry points.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Descriptors are formula files, installed in order.
	Descriptors []string
	Head        bool
	Force       bool
	// Overrides of the settings file. Empty strings and RetriesUnset keep the file value.
	Prefix   string
	WorkDir  string
	LogLevel string
	Retries  int
}

// Run installs every descriptor in opts and stops at the first failure.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "formula-install")

	installer, descriptors, err := prepare(ctx, opts)
	if err != nil {
		return err
	}

	request := Request{
		Head:  opts.Head,
		Force: opts.Force,
	}

	for _, d := range descriptors {
		result, installErr := installer.Install(ctx, d, request)
		if installErr != nil {
			logger.ErrorKV(ctx, "Install failed",
				"formula", d.Name,
				"stages", result.History,
				"error", installErr)

			return installErr
		}
	}

	return nil
}

// RunTest re-runs the self-test of every descriptor in opts.
func RunTest(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "formula-install")

	installer, descriptors, err := prepare(ctx, opts)
	if err != nil {
		return err
	}

	for _, d := range descriptors {
		output, testErr := installer.SelfTest(ctx, d)
		if testErr != nil {
			return testErr
		}

		logger.InfoKV(ctx, "Self-test passed", "formula", d.Name, "output", string(output))
	}

	return nil
}

func prepare(ctx context.Context, opts *Options) (*Installer, []*domain.Descriptor, error) {
	if len(opts.Descriptors) == 0 {
		return nil, nil, errNoDescriptors
	}

	cfg, err := LoadSettings(opts)
	if err != nil {
		return nil, nil, err
	}

	level, _ := logger.ParseLogLevel(cfg.LogLevel)
	logger.SetLevel(level)

	logger.DebugKV(ctx, "Settings loaded",
		"prefix", cfg.Prefix,
		"work_dir", cfg.WorkDir,
		"retries", cfg.Retries)

	loader := formula.NewLoader(platform.HostDetector{})
	descriptors := make([]*domain.Descriptor, 0, len(opts.Descriptors))

	for _, path := range opts.Descriptors {
		d, loadErr := loader.Load(ctx, path)
		if loadErr != nil {
			return nil, nil, loadErr
		}

		descriptors = append(descriptors, d)
	}

	return New(cfg), descriptors, nil
}

// LoadSettings reads the settings file and applies the overrides from opts.
// Only a missing default settings file is tolerated.
func LoadSettings(opts *Options) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.Prefix != "" {
		cfg.Prefix = opts.Prefix
	}

	if opts.WorkDir != "" {
		cfg.WorkDir = opts.WorkDir
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	if opts.Retries != RetriesUnset {
		cfg.Retries = opts.Retries
	}

	if err = config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	return cfg, nil
}
