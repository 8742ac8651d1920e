package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// RefExists returns true if the named branch exists
func (g *Git) RefExists(name string) bool {
	_, err := g.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// CurrentBranch returns the checked-out branch name
func (g *Git) CurrentBranch() (string, error) {
	head, err := g.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", vcs.ErrDetached
	}
	return head.Target().Short(), nil
}

// Head returns the commit hash HEAD resolves to
func (g *Git) Head() (string, error) {
	ref, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Branches returns all local branch names, sorted
func (g *Git) Branches() ([]string, error) {
	iter, err := g.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// BranchTip returns the commit hash the branch points to
func (g *Git) BranchTip(name string) (string, error) {
	ref, err := g.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", fmt.Errorf("%w: branch %s", vcs.ErrRefNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve branch %s: %w", name, err)
	}
	return ref.Hash().String(), nil
}

// Checkout switches the working tree to the named branch
func (g *Git) Checkout(name string) error {
	if !g.RefExists(name) {
		return fmt.Errorf("%w: branch %s", vcs.ErrRefNotFound, name)
	}
	if current, err := g.CurrentBranch(); err == nil && current == name {
		return nil
	}
	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := w.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name)}); err != nil {
		return fmt.Errorf("git checkout %s failed: %w", name, err)
	}
	return nil
}

// CreateBranch creates a branch at the current tip and checks it out.
// Uncommitted changes stay in the working tree.
func (g *Git) CreateBranch(name string) error {
	if name == vcs.MainBranch {
		return fmt.Errorf("%w: cannot create %s again", vcs.ErrProtectedRef, name)
	}
	if g.RefExists(name) {
		return fmt.Errorf("%w: branch %s", vcs.ErrRefExists, name)
	}

	head, err := g.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !validBranchName(name) {
		return fmt.Errorf("invalid branch name %q", name)
	}
	ref := plumbing.NewBranchReferenceName(name)
	if err := g.repo.Storer.SetReference(plumbing.NewHashReference(ref, head.Hash())); err != nil {
		return fmt.Errorf("failed to create branch: %w", err)
	}
	if err := g.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, ref)); err != nil {
		return fmt.Errorf("failed to switch to branch: %w", err)
	}
	return nil
}

// DeleteBranch checks out fallback and deletes the named branch
func (g *Git) DeleteBranch(name, fallback string) error {
	if name == vcs.MainBranch {
		return fmt.Errorf("%w: cannot delete %s", vcs.ErrProtectedRef, name)
	}
	if !g.RefExists(name) {
		return fmt.Errorf("%w: branch %s", vcs.ErrRefNotFound, name)
	}
	if fallback == name {
		return fmt.Errorf("cannot fall back to the branch being deleted")
	}
	if err := g.Checkout(fallback); err != nil {
		return err
	}
	if err := g.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	return nil
}

// RenameBranch moves oldName to newName. HEAD follows when oldName is
// checked out; the working tree is not touched.
func (g *Git) RenameBranch(oldName, newName string) error {
	if oldName == vcs.MainBranch || newName == vcs.MainBranch {
		return fmt.Errorf("%w: cannot rename %s", vcs.ErrProtectedRef, vcs.MainBranch)
	}
	tip, err := g.BranchTip(oldName)
	if err != nil {
		return err
	}
	if g.RefExists(newName) {
		return fmt.Errorf("%w: branch %s", vcs.ErrRefExists, newName)
	}
	if !validBranchName(newName) {
		return fmt.Errorf("invalid branch name %q", newName)
	}
	current, err := g.CurrentBranch()
	if err != nil && !errors.Is(err, vcs.ErrDetached) {
		return err
	}

	if err := g.setRef(newName, plumbing.NewHash(tip)); err != nil {
		return err
	}
	if current == oldName {
		head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(newName))
		if err := g.repo.Storer.SetReference(head); err != nil {
			return fmt.Errorf("failed to switch to branch: %w", err)
		}
	}
	if err := g.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(oldName)); err != nil {
		return fmt.Errorf("failed to remove branch %s: %w", oldName, err)
	}
	return nil
}

// SetBranch points the named branch at hash, creating it if needed.
// The index and working tree are not touched.
func (g *Git) SetBranch(name, hash string) error {
	if _, err := g.resolve(hash); err != nil {
		return err
	}
	if !validBranchName(name) {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return g.setRef(name, plumbing.NewHash(hash))
}

// validBranchName applies the subset of git-check-ref-format rules that
// matter for names typed on the command line.
func validBranchName(name string) bool {
	if name == "" || name == "HEAD" || strings.HasPrefix(name, "-") || strings.HasPrefix(name, "/") ||
		strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".") {
		return false
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") {
		return false
	}
	return !strings.ContainsAny(name, " ~^:?*[\\\t\n")
}

func (g *Git) setRef(name string, hash plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := g.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("failed to update branch %s: %w", name, err)
	}
	return nil
}
