package git

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// CommitAll commits every modified and deleted file on the current branch,
// plus untracked files when opts.IncludeUntracked is set. Returns
// committed=false when the working tree is clean.
func (g *Git) CommitAll(ctx context.Context, opts vcs.CommitOptions) (vcs.CommitInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return vcs.CommitInfo{}, false, err
	}
	if _, err := g.CurrentBranch(); err != nil {
		return vcs.CommitInfo{}, false, err
	}

	w, err := g.repo.Worktree()
	if err != nil {
		return vcs.CommitInfo{}, false, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return vcs.CommitInfo{}, false, fmt.Errorf("git status failed: %w", err)
	}
	if !hasChanges(status, opts.IncludeUntracked) {
		return vcs.CommitInfo{}, false, nil
	}
	changed, err := g.normalizeModes(status, opts.IncludeUntracked)
	if err != nil {
		return vcs.CommitInfo{}, false, err
	}
	if changed {
		if status, err = w.Status(); err != nil {
			return vcs.CommitInfo{}, false, fmt.Errorf("git status failed: %w", err)
		}
		if !hasChanges(status, opts.IncludeUntracked) {
			return vcs.CommitInfo{}, false, nil
		}
	}

	if opts.IncludeUntracked {
		if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
			return vcs.CommitInfo{}, false, fmt.Errorf("git add failed: %w", err)
		}
	}

	author := g.identity
	if opts.Author != nil {
		author = *opts.Author
	}
	if author.Name == "" {
		return vcs.CommitInfo{}, false, fmt.Errorf("no author identity configured")
	}

	head, err := g.repo.Head()
	if err != nil {
		return vcs.CommitInfo{}, false, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	parent, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return vcs.CommitInfo{}, false, fmt.Errorf("failed to read HEAD commit: %w", err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	when := nextTimestamp(now(), parent.Author.When)
	sig := signature(author, when)

	hash, err := w.Commit(opts.Message, &gogit.CommitOptions{
		All:       true,
		Author:    &sig,
		Committer: &sig,
	})
	if err != nil {
		return vcs.CommitInfo{}, false, fmt.Errorf("git commit failed: %w", err)
	}

	info, err := g.CommitInfo(hash.String())
	return info, err == nil, err
}

// nextTimestamp truncates now to whole seconds and keeps it strictly after
// the parent timestamp.
func nextTimestamp(now, parent time.Time) time.Time {
	when := now.Truncate(time.Second)
	if !when.After(parent) {
		when = parent.Add(time.Second)
	}
	return when
}

// normalizeModes clears the executable bit of every file the commit would
// record, so that every committed entry is a regular file. Symbolic links
// are refused with vcs.ErrUnsupportedFile before anything is committed.
// It reports whether any file mode was changed.
func (g *Git) normalizeModes(status gogit.Status, includeUntracked bool) (bool, error) {
	paths := make([]string, 0, len(status))
	for p, fs := range status {
		if fs.Worktree == gogit.Untracked && !includeUntracked {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	changed := false
	for _, p := range paths {
		full := filepath.Join(g.root, filepath.FromSlash(p))
		info, err := os.Lstat(full)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		mode := info.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			return false, fmt.Errorf("%w: %s is a symbolic link", vcs.ErrUnsupportedFile, p)
		case !mode.IsRegular():
			return false, fmt.Errorf("%w: %s", vcs.ErrUnsupportedFile, p)
		case mode.Perm()&0o111 != 0:
			if err := os.Chmod(full, mode.Perm()&^0o111); err != nil {
				return false, fmt.Errorf("failed to clear executable bit of %s: %w", p, err)
			}
			changed = true
		}
	}
	return changed, nil
}

func hasChanges(status gogit.Status, includeUntracked bool) bool {
	for _, fs := range status {
		if fs.Worktree == gogit.Untracked && fs.Staging == gogit.Untracked {
			if includeUntracked {
				return true
			}
			continue
		}
		if fs.Staging != gogit.Unmodified || fs.Worktree != gogit.Unmodified {
			return true
		}
	}
	return false
}

// HasCommit reports whether the commit object exists locally
func (g *Git) HasCommit(hash string) bool {
	_, err := g.resolve(hash)
	return err == nil
}

// CommitInfo returns the metadata of a commit
func (g *Git) CommitInfo(hash string) (vcs.CommitInfo, error) {
	c, err := g.resolve(hash)
	if err != nil {
		return vcs.CommitInfo{}, err
	}
	return commitInfo(c), nil
}

func commitInfo(c *object.Commit) vcs.CommitInfo {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return vcs.CommitInfo{
		Hash:        c.Hash.String(),
		Author:      c.Author.Name,
		AuthorEmail: c.Author.Email,
		Message:     c.Message,
		Parents:     parents,
		Timestamp:   c.Author.When,
	}
}

// ChangedFiles returns the files the commit changed relative to its first
// parent. Deleted paths map to nil.
func (g *Git) ChangedFiles(hash string) (map[string][]byte, error) {
	c, err := g.resolve(hash)
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", hash, err)
	}

	files := make(map[string][]byte)
	if c.NumParents() == 0 {
		err := tree.Files().ForEach(func(f *object.File) error {
			data, err := readBlob(f)
			if err != nil {
				return err
			}
			files[f.Name] = data
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read files of %s: %w", hash, err)
		}
		return files, nil
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("failed to read parent of %s: %w", hash, err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read parent tree of %s: %w", hash, err)
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("git diff-tree failed for %s: %w", hash, err)
	}
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, err
		}
		if action == merkletrie.Delete {
			files[change.From.Name] = nil
			continue
		}
		if change.To.TreeEntry.Mode == filemode.Submodule {
			continue
		}
		_, to, err := change.Files()
		if err != nil {
			return nil, fmt.Errorf("failed to read change %s: %w", change.To.Name, err)
		}
		data, err := readBlob(to)
		if err != nil {
			return nil, err
		}
		files[change.To.Name] = data
	}
	return files, nil
}

func readBlob(f *object.File) ([]byte, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", f.Name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", f.Name, err)
	}
	return data, nil
}
