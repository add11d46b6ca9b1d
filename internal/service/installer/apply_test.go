package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
)

func writeBuildFile(t *testing.T, dir, name, contents string) {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

// TestResolveArtifacts rejects missing sources and directories.
func TestResolveArtifacts(t *testing.T) {
	t.Parallel()

	buildDir := t.TempDir()
	layout := domain.NewLayout(t.TempDir(), "tool")

	writeBuildFile(t, buildDir, "out/tool", "bin")
	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "docs"), 0o755))

	artifacts, err := resolveArtifacts(buildDir, layout, []domain.InstallStep{
		{Source: "out/tool", Category: domain.CategoryBin, As: "tool-cli"},
	})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, filepath.Join(layout.Prefix, "bin", "tool-cli"), artifacts[0].target)

	_, err = resolveArtifacts(buildDir, layout, []domain.InstallStep{
		{Source: "out/tool", Category: domain.CategoryBin},
		{Source: "out/missing", Category: domain.CategoryBin},
	})
	require.ErrorIs(t, err, errMissingSource)

	_, err = resolveArtifacts(buildDir, layout, []domain.InstallStep{
		{Source: "docs", Category: domain.CategoryDoc},
	})
	require.ErrorIs(t, err, errSourceNotFile)
}

// TestResolveArtifacts_SharedTarget refuses two steps that write the same file
// and leaves the installed copy alone.
func TestResolveArtifacts_SharedTarget(t *testing.T) {
	t.Parallel()

	buildDir := t.TempDir()
	layout := domain.NewLayout(t.TempDir(), "tool")

	writeBuildFile(t, buildDir, "out/tool", "new tool")
	writeBuildFile(t, buildDir, "alt/tool", "other tool")
	writeBuildFile(t, layout.Prefix, "bin/tool", "old tool")

	_, err := resolveArtifacts(buildDir, layout, []domain.InstallStep{
		{Source: "out/tool", Category: domain.CategoryBin},
		{Source: "alt/tool", Category: domain.CategoryBin},
	})
	require.ErrorIs(t, err, errTargetTaken)

	contents, err := os.ReadFile(filepath.Join(layout.Prefix, "bin", "tool"))
	require.NoError(t, err)
	require.Equal(t, "old tool", string(contents))
}

// TestTransaction_RollbackOnFailure undoes earlier artifacts when a later one cannot be written.
func TestTransaction_RollbackOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buildDir := t.TempDir()
	layout := domain.NewLayout(t.TempDir(), "tool")

	writeBuildFile(t, buildDir, "tool", "new tool")
	writeBuildFile(t, buildDir, "helper", "new helper")
	writeBuildFile(t, buildDir, "tool.1", ".TH TOOL 1")

	existing := filepath.Join(layout.Prefix, "bin", "tool")
	writeBuildFile(t, layout.Prefix, "bin/tool", "old tool")

	// A regular file where the man directory should be makes the last artifact fail.
	writeBuildFile(t, layout.Prefix, "share", "in the way")

	artifacts, err := resolveArtifacts(buildDir, layout, []domain.InstallStep{
		{Source: "tool", Category: domain.CategoryBin},
		{Source: "helper", Category: domain.CategorySbin},
		{Source: "tool.1", Category: domain.CategoryMan1},
	})
	require.NoError(t, err)

	var tx transaction

	require.Error(t, tx.apply(ctx, artifacts))

	contents, err := os.ReadFile(existing)
	require.NoError(t, err)
	require.Equal(t, "old tool", string(contents))
	require.NoFileExists(t, existing+backupSuffix)
	require.NoDirExists(t, filepath.Join(layout.Prefix, "sbin"))
	require.Empty(t, tx.applied)
}

// TestTransaction_Commit keeps new files and drops backups.
func TestTransaction_Commit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buildDir := t.TempDir()
	layout := domain.NewLayout(t.TempDir(), "tool")

	writeBuildFile(t, buildDir, "tool", "new tool")
	writeBuildFile(t, layout.Prefix, "bin/tool", "old tool")

	artifacts, err := resolveArtifacts(buildDir, layout, []domain.InstallStep{
		{Source: "tool", Category: domain.CategoryBin},
	})
	require.NoError(t, err)

	var tx transaction

	require.NoError(t, tx.apply(ctx, artifacts))

	target := filepath.Join(layout.Prefix, "bin", "tool")
	require.FileExists(t, target+backupSuffix)

	tx.commit(ctx)

	contents, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "new tool", string(contents))
	require.NoFileExists(t, target+backupSuffix)

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	require.Len(t, tx.checksums(), 1)
}

// TestTransaction_CancelledContext applies nothing.
func TestTransaction_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buildDir := t.TempDir()
	layout := domain.NewLayout(t.TempDir(), "tool")
	writeBuildFile(t, buildDir, "tool", "new tool")

	artifacts, err := resolveArtifacts(buildDir, layout, []domain.InstallStep{
		{Source: "tool", Category: domain.CategoryBin},
	})
	require.NoError(t, err)

	var tx transaction

	require.ErrorIs(t, tx.apply(ctx, artifacts), context.Canceled)
	require.NoDirExists(t, filepath.Join(layout.Prefix, "bin"))
}
