package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// TestCloner_Clone checks out a local repository and reports its head commit.
func TestCloner_Clone(t *testing.T) {
	t.Parallel()

	origin := t.TempDir()

	repository, err := gogit.PlainInit(origin, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(origin, "Makefile"), []byte("all:\n"), 0o600))

	worktree, err := repository.Worktree()
	require.NoError(t, err)

	_, err = worktree.Add("Makefile")
	require.NoError(t, err)

	commit, err := worktree.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "Release Bot", Email: "bot@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "head")

	got, err := (&Cloner{}).Clone(context.Background(), origin, dest)
	require.NoError(t, err)
	require.Equal(t, commit.String(), got)
	require.FileExists(t, filepath.Join(dest, "Makefile"))
}

// TestCloner_Errors covers an empty url and a missing repository.
func TestCloner_Errors(t *testing.T) {
	t.Parallel()

	cloner := NewCloner()
	require.Equal(t, DefaultDepth, cloner.Depth)

	_, err := cloner.Clone(context.Background(), "", t.TempDir())
	require.ErrorIs(t, err, ErrEmptyURL)

	_, err = (&Cloner{}).Clone(context.Background(), filepath.Join(t.TempDir(), "absent"), filepath.Join(t.TempDir(), "dest"))
	require.Error(t, err)
}
