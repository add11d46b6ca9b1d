package receipt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/formula-install/internal/domain/formula"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a formula never installed.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(t.TempDir())

	r, err := repo.Load(context.Background(), "sigi")
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, r)
}

// TestFileRepository_SaveLoadDelete ensures Save followed by Load returns an equal receipt.
func TestFileRepository_SaveLoadDelete(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "var", "formula-install")
	repo := NewFileRepository(dir)

	want := &domain.Receipt{
		Name:        "sigi",
		Version:     "3.1.1",
		PURL:        "pkg:cargo/sigi@3.1.1",
		SourceURL:   "https://crates.io/api/v1/crates/sigi/3.1.1/download",
		SHA256:      "0f0b35c1d21492eff7b90bee47651293b11a48dba86780586082ae686af9a9ba",
		InstallID:   "5b0f8f66-3c8f-4d34-8a0b-2f3f0d7c9a10",
		InstalledAt: time.Now().UTC().Truncate(time.Second),
		InstalledBy: &domain.Actor{Hostname: "build-01", Username: "o.shokin"},
		Platform:    "linux/amd64",
		Files:       map[string]string{"/opt/tools/bin/sigi": "q83vEjRWeJA="},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background(), "sigi")
	require.NoError(t, err)
	require.True(t, want.InstalledAt.Equal(got.InstalledAt))

	got.InstalledAt = want.InstalledAt
	require.Equal(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")

	require.NoError(t, repo.Delete(context.Background(), "sigi"))
	require.NoError(t, repo.Delete(context.Background(), "sigi"))

	_, err = repo.Load(context.Background(), "sigi")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestFileRepository_Corrupted reports undecodable receipts.
func TestFileRepository_Corrupted(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(t.TempDir())
	require.NoError(t, os.WriteFile(repo.Path("sigi"), []byte("name: [unterminated"), 0o600))

	_, err := repo.Load(context.Background(), "sigi")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}
