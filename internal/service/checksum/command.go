package checksum

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/formula-install/internal/config"
	domain "github.com/oshokin/formula-install/internal/domain/formula"
	"github.com/oshokin/formula-install/internal/fetch"
	"github.com/oshokin/formula-install/internal/integrity"
	"github.com/oshokin/formula-install/internal/logger"
	"github.com/oshokin/formula-install/internal/platform"
	"github.com/oshokin/formula-install/internal/repository/formula"
)

var (
	errNoDescriptor  = errors.New("descriptor path is required")
	errNotWritable   = errors.New("only YAML descriptors can be updated in place")
	errNoSourceURL   = errors.New("descriptor has no url")
	errNoDigestField = errors.New("descriptor is not a YAML mapping")
)

// Options are inputs accepted by the checksum entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Descriptor is the formula file to hash the source of.
	Descriptor string
	// Write replaces the sha256 value of a YAML descriptor.
	Write bool
	// Out receives the "<digest>  <url>" line. Defaults to stdout.
	Out io.Writer
}

// Downloader fetches a source archive to a local file.
type Downloader interface {
	DownloadFile(ctx context.Context, url, path string) (int64, error)
}

// Run hashes the source of opts.Descriptor and optionally records the digest.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "formula-checksum")

	if opts.Descriptor == "" {
		return errNoDescriptor
	}

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.Write && !isYAML(opts.Descriptor) {
		return fmt.Errorf("%s: %w", opts.Descriptor, errNotWritable)
	}

	d, err := formula.NewLoader(platform.HostDetector{}).Parse(ctx, opts.Descriptor)
	if err != nil {
		return err
	}

	downloader := fetch.NewFetcher(
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithRetries(cfg.Retries),
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithBreakerThreshold(cfg.BreakerThreshold),
	)

	digest, err := Compute(ctx, downloader, d, cfg.WorkDir)
	if err != nil {
		return err
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	if _, err = fmt.Fprintf(out, "%s  %s\n", digest, d.SourceURL()); err != nil {
		return err
	}

	if !opts.Write {
		return nil
	}

	if d.SHA256 == digest {
		logger.InfoKV(ctx, "Descriptor already up to date", "path", opts.Descriptor)

		return nil
	}

	if err = WriteDigest(opts.Descriptor, digest); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Descriptor updated", "path", opts.Descriptor, "sha256", digest)

	return nil
}

// Compute downloads the source of d into a scratch directory under workDir
// and returns its hex SHA-256 digest.
func Compute(ctx context.Context, downloader Downloader, d *domain.Descriptor, workDir string) (string, error) {
	if d.URL == "" {
		return "", errNoSourceURL
	}

	if d.Version == "" {
		d.Version = formula.VersionFromURL(d.URL)
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, config.DefaultDirPermissions); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}
	}

	scratch, err := os.MkdirTemp(workDir, "formula-checksum-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	defer func() {
		if removeErr := os.RemoveAll(scratch); removeErr != nil {
			logger.WarnKV(ctx, "Unable to remove scratch dir", "path", scratch, "error", removeErr)
		}
	}()

	url := d.SourceURL()
	target := filepath.Join(scratch, "source")

	logger.InfoKV(ctx, "Fetching source", "url", url)

	if _, err = downloader.DownloadFile(ctx, url, target); err != nil {
		return "", err
	}

	checksum, err := integrity.FileChecksum(target)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(checksum), nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
