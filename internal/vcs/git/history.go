package git

import (
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Ancestors returns every commit reachable from tip, oldest first.
// Commits are ordered by committer time; a commit always follows its
// parents because replayed and local commits carry increasing timestamps.
func (g *Git) Ancestors(tip string) ([]string, error) {
	if _, err := g.resolve(tip); err != nil {
		return nil, err
	}
	iter, err := g.repo.Log(&gogit.LogOptions{
		From:  plumbing.NewHash(tip),
		Order: gogit.LogOrderCommitterTime,
	})
	if err != nil {
		return nil, fmt.Errorf("git log failed: %w", err)
	}
	defer iter.Close()

	var newestFirst []string
	err = iter.ForEach(func(c *object.Commit) error {
		newestFirst = append(newestFirst, c.Hash.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("git log failed: %w", err)
	}

	out := make([]string, len(newestFirst))
	for i, h := range newestFirst {
		out[len(newestFirst)-1-i] = h
	}
	return out, nil
}

// HardReset points the current branch at hash and resets the index and
// working tree to it.
func (g *Git) HardReset(hash string) error {
	return g.reset(hash, gogit.HardReset)
}

// SoftReset points the current branch at hash and resets the index. The
// working tree keeps its content.
func (g *Git) SoftReset(hash string) error {
	return g.reset(hash, gogit.MixedReset)
}

// FastForward moves the current branch to hash and updates the index and
// working tree. It refuses to run over uncommitted changes.
func (g *Git) FastForward(hash string) error {
	return g.reset(hash, gogit.MergeReset)
}

func (g *Git) reset(hash string, mode gogit.ResetMode) error {
	if _, err := g.resolve(hash); err != nil {
		return err
	}
	if _, err := g.CurrentBranch(); err != nil {
		return err
	}
	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := w.Reset(&gogit.ResetOptions{Commit: plumbing.NewHash(hash), Mode: mode}); err != nil {
		return fmt.Errorf("git reset to %s failed: %w", hash, err)
	}
	return nil
}
