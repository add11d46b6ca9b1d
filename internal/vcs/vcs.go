// Package vcs clones development heads for --head builds.
package vcs

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// DefaultDepth fetches only the tip commit.
const DefaultDepth = 1

// ErrEmptyURL is returned when no head URL is given.
var ErrEmptyURL = errors.New("head url is empty")

// Cloner checks out a repository head.
type Cloner struct {
	// Depth limits history; zero clones everything.
	Depth int
}

// NewCloner returns a shallow cloner.
func NewCloner() *Cloner {
	return &Cloner{
		Depth: DefaultDepth,
	}
}

// Clone checks out the default branch of url into dest and returns the commit it landed on.
func (c *Cloner) Clone(ctx context.Context, url, dest string) (string, error) {
	if url == "" {
		return "", ErrEmptyURL
	}

	repository, err := gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
		URL:          url,
		Depth:        c.Depth,
		SingleBranch: true,
		Tags:         gogit.NoTags,
	})
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", url, err)
	}

	head, err := repository.Head()
	if err != nil {
		return "", fmt.Errorf("resolve head of %s: %w", url, err)
	}

	return head.Hash().String(), nil
}
