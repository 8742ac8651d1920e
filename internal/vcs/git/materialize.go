package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// Materialize writes a commit whose tree is the first parent's tree with
// opts.Files applied. Author and committer are both set from opts.Author
// and opts.Timestamp, so the same inputs always yield the same hash.
// Every file is written as a regular file, which is all CommitAll records.
func (g *Git) Materialize(ctx context.Context, opts vcs.MaterializeOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entries := make(map[string]object.TreeEntry)
	parents := make([]plumbing.Hash, 0, len(opts.Parents))
	for i, p := range opts.Parents {
		c, err := g.resolve(p)
		if err != nil {
			return "", fmt.Errorf("parent %s: %w", p, err)
		}
		parents = append(parents, c.Hash)
		if i > 0 {
			continue
		}
		if err := g.flattenTree(c, entries); err != nil {
			return "", err
		}
	}

	paths := make([]string, 0, len(opts.Files))
	for p := range opts.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		clean, err := vcs.CleanRepoPath(p)
		if err != nil {
			return "", err
		}
		data := opts.Files[p]
		if data == nil {
			delete(entries, clean)
			continue
		}
		hash, err := g.writeBlob(data)
		if err != nil {
			return "", err
		}
		entries[clean] = object.TreeEntry{Name: clean, Mode: filemode.Regular, Hash: hash}
	}

	treeHash, err := g.writeTree(entries)
	if err != nil {
		return "", err
	}
	sig := signature(opts.Author, opts.Timestamp)
	hash, err := g.writeCommit(&object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      opts.Message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	})
	if err != nil {
		return "", err
	}

	if opts.ExpectHash != "" && hash.String() != opts.ExpectHash {
		return "", fmt.Errorf("%w: expected %s, got %s", vcs.ErrHashMismatch, opts.ExpectHash, hash)
	}
	return hash.String(), nil
}

// flattenTree collects every non-directory entry of c's tree keyed by its
// full slash-separated path.
func (g *Git) flattenTree(c *object.Commit, entries map[string]object.TreeEntry) error {
	tree, err := c.Tree()
	if err != nil {
		return fmt.Errorf("failed to read tree of %s: %w", c.Hash, err)
	}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk tree of %s: %w", c.Hash, err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		entry.Name = name
		entries[name] = entry
	}
}

func (g *Git) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := g.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	hash, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob: %w", err)
	}
	return hash, nil
}

// dirNode is one directory level while building nested trees
type dirNode struct {
	files map[string]object.TreeEntry
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: make(map[string]object.TreeEntry), dirs: make(map[string]*dirNode)}
}

// writeTree stores the tree objects for a flat path->entry map and returns
// the root tree hash. A nil or empty map yields the empty tree.
func (g *Git) writeTree(entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	root := newDirNode()
	for p, e := range entries {
		parts := strings.Split(p, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			if _, clash := node.files[dir]; clash {
				return plumbing.ZeroHash, fmt.Errorf("path %s conflicts with file %s", p, dir)
			}
			next, ok := node.dirs[dir]
			if !ok {
				next = newDirNode()
				node.dirs[dir] = next
			}
			node = next
		}
		base := parts[len(parts)-1]
		if _, clash := node.dirs[base]; clash {
			return plumbing.ZeroHash, fmt.Errorf("file %s conflicts with a directory", p)
		}
		e.Name = base
		node.files[base] = e
	}
	return g.writeDir(root)
}

func (g *Git) writeDir(node *dirNode) (plumbing.Hash, error) {
	tree := &object.Tree{}
	for _, e := range node.files {
		tree.Entries = append(tree.Entries, e)
	}
	for name, sub := range node.dirs {
		hash, err := g.writeDir(sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	// git orders directories as if their name ended in a slash
	sort.Slice(tree.Entries, func(i, j int) bool {
		return sortName(tree.Entries[i]) < sortName(tree.Entries[j])
	})

	obj := g.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	hash, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}
	return hash, nil
}

func sortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func (g *Git) writeCommit(c *object.Commit) (plumbing.Hash, error) {
	obj := g.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	hash, err := g.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store commit: %w", err)
	}
	return hash, nil
}
