package installer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/formula-install/internal/config"
	domain "github.com/oshokin/formula-install/internal/domain/formula"
	"github.com/oshokin/formula-install/internal/integrity"
	"github.com/oshokin/formula-install/internal/logger"
)

// backupSuffix names the previous version of an artifact while an install is in flight.
const backupSuffix = ".formula-install.old"

var (
	errMissingSource = errors.New("install source not found after build")
	errSourceNotFile = errors.New("install source is not a regular file")
	errTargetTaken   = errors.New("install target already used by another step")
)

// artifact is one resolved install step.
type artifact struct {
	step   domain.InstallStep
	source string
	target string
}

// appliedArtifact remembers how to undo one apply.
type appliedArtifact struct {
	target   string
	backup   string
	created  bool
	checksum []byte
}

// transaction applies artifacts one by one and can undo all of them.
type transaction struct {
	applied     []appliedArtifact
	createdDirs []string
}

// resolveArtifacts maps every step to its source and target, failing before anything is written.
func resolveArtifacts(buildDir string, layout domain.Layout, steps []domain.InstallStep) ([]artifact, error) {
	artifacts := make([]artifact, 0, len(steps))
	targets := make(map[string]struct{}, len(steps))

	for _, step := range steps {
		target := layout.Target(step)
		if _, seen := targets[target]; seen {
			return nil, fmt.Errorf("%s -> %s: %w", step.Source, target, errTargetTaken)
		}

		targets[target] = struct{}{}

		source := filepath.Join(buildDir, filepath.FromSlash(step.Source))

		info, err := os.Stat(source)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", step.Source, errMissingSource)
			}

			return nil, fmt.Errorf("stat %s: %w", step.Source, err)
		}

		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s: %w", step.Source, errSourceNotFile)
		}

		artifacts = append(artifacts, artifact{
			step:   step,
			source: source,
			target: target,
		})
	}

	return artifacts, nil
}

// apply installs every artifact, rolling back all of them on the first failure.
func (tx *transaction) apply(ctx context.Context, artifacts []artifact) error {
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			tx.rollback(ctx)

			return err
		}

		if err := tx.applyOne(ctx, a); err != nil {
			tx.rollback(ctx)

			return fmt.Errorf("install %s: %w", a.step.Source, err)
		}
	}

	return nil
}

// applyOne follows the updater flow: read the new file, make sure the target
// exists, then let go-update swap it in with checksum validation.
func (tx *transaction) applyOne(ctx context.Context, a artifact) error {
	data, err := os.ReadFile(a.source)
	if err != nil {
		return err
	}

	checksum, err := integrity.ReaderChecksum(bytes.NewReader(data))
	if err != nil {
		return err
	}

	if err = tx.ensureDir(filepath.Dir(a.target)); err != nil {
		return err
	}

	applied := appliedArtifact{
		target:   a.target,
		backup:   a.target + backupSuffix,
		checksum: checksum,
	}

	if _, err = os.Lstat(a.target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.OpenFile(a.target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, a.step.Category.Mode())
		if createErr != nil {
			return createErr
		}

		_ = placeholder.Close()
		applied.created = true
	} else if err != nil {
		return err
	}

	_ = os.Remove(applied.backup)

	logger.DebugKV(ctx, "Applying artifact", "source", a.source, "target", a.target)

	options := goupdate.Options{
		TargetPath:  a.target,
		TargetMode:  a.step.Category.Mode(),
		Checksum:    checksum,
		Hash:        integrity.DefaultHash,
		OldSavePath: applied.backup,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			logger.ErrorKV(ctx, "Artifact could not be restored", "target", a.target, "error", rollbackErr)
		}

		if applied.created {
			_ = os.Remove(a.target)
		}

		return err
	}

	// go-update leaves the mode of the replaced file alone.
	if err = os.Chmod(a.target, a.step.Category.Mode()); err != nil {
		tx.applied = append(tx.applied, applied)

		return err
	}

	tx.applied = append(tx.applied, applied)

	return nil
}

// ensureDir creates dir and remembers which levels did not exist before.
func (tx *transaction) ensureDir(dir string) error {
	var missing []string

	for current := dir; ; current = filepath.Dir(current) {
		if _, err := os.Stat(current); err == nil {
			break
		}

		missing = append(missing, current)

		if parent := filepath.Dir(current); parent == current {
			break
		}
	}

	if len(missing) == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return err
	}

	tx.createdDirs = append(tx.createdDirs, missing...)

	return nil
}

// rollback restores previous versions and removes new files and directories.
func (tx *transaction) rollback(ctx context.Context) {
	for _, applied := range slices.Backward(tx.applied) {
		var err error

		if applied.created {
			err = os.Remove(applied.target)
			_ = os.Remove(applied.backup)
		} else {
			err = os.Rename(applied.backup, applied.target)
		}

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.ErrorKV(ctx, "Rollback failed", "target", applied.target, "error", err)

			continue
		}

		logger.DebugKV(ctx, "Rolled back artifact", "target", applied.target)
	}

	// Deepest first. Only empty directories go.
	slices.SortFunc(tx.createdDirs, func(a, b string) int {
		return len(b) - len(a)
	})

	for _, dir := range tx.createdDirs {
		_ = os.Remove(dir)
	}

	tx.applied = nil
	tx.createdDirs = nil
}

// commit drops the backups of replaced files.
func (tx *transaction) commit(ctx context.Context) {
	for _, applied := range tx.applied {
		if err := os.Remove(applied.backup); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Unable to remove backup", "path", applied.backup, "error", err)
		}
	}
}

// checksums returns target -> base64 checksum for the receipt.
func (tx *transaction) checksums() map[string]string {
	files := make(map[string]string, len(tx.applied))
	for _, applied := range tx.applied {
		files[applied.target] = base64.StdEncoding.EncodeToString(applied.checksum)
	}

	return files
}
