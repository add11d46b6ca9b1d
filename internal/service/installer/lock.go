package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/formula-install/internal/config"
	"github.com/oshokin/formula-install/internal/logger"
)

// ErrLocked is returned when another live install holds the formula's lock.
var ErrLocked = errors.New("another install is running")

const (
	// lockLifetime is the age after which a lock is ignored even if its pid is alive.
	lockLifetime = 24 * time.Hour

	lockFilePermissions = 0o600
)

// installLock is an exclusive lock file holding the owner pid and creation time.
type installLock struct {
	path string
}

// acquireLock creates the lock file at path, replacing it once if it looks stale.
func acquireLock(ctx context.Context, path string, now time.Time) (*installLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := createLockFile(path, now)
		if err == nil {
			return &installLock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		if !isLockStale(ctx, path, now) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}

		logger.InfoKV(ctx, "Removing stale lock", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%s: %w", path, ErrLocked)
}

func createLockFile(path string, now time.Time) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFilePermissions)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(file, "%d\n%s\n", os.Getpid(), now.UTC().Format(time.RFC3339))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
	}

	return err
}

// isLockStale reports whether the lock's owner is gone or the lock outlived lockLifetime.
// An unreadable lock is considered stale.
func isLockStale(ctx context.Context, path string, now time.Time) bool {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}

	pidLine, createdLine, _ := strings.Cut(strings.TrimSpace(string(contents)), "\n")

	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return true
	}

	created, err := time.Parse(time.RFC3339, strings.TrimSpace(createdLine))
	if err != nil || now.Sub(created) > lockLifetime {
		return true
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		logger.WarnKV(ctx, "Unable to check lock owner", "pid", pid, "error", err)

		return false
	}

	return process == nil
}

// release removes the lock file.
func (l *installLock) release(ctx context.Context) {
	if l == nil {
		return
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Unable to remove lock", "path", l.path, "error", err)
	}
}
