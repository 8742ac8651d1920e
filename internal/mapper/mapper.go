// Package mapper converts between a local history store and ledger records.
//
// Going to the ledger, every commit is described by its metadata plus one
// content hash per path its diff touched; the file bytes go to the content
// store. Coming back, commits are replayed into a history store with their
// recorded author, timestamp and parents, so the recreated hashes match the
// recorded ones. A mismatch is an error, never tolerated silently.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/ledgit/internal/content"
	"github.com/mschirtzinger/ledgit/internal/schema"
	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// Mapper moves commits between a history store and ledger records,
// uploading and downloading file bytes through a content store.
type Mapper struct {
	blobs content.Store
	log   zerolog.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger for upload and replay traces.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Mapper) { m.log = log }
}

// New returns a Mapper over the given content store. The Mapper does not
// own the store.
func New(blobs content.Store, opts ...Option) *Mapper {
	m := &Mapper{blobs: blobs, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ToLedgerCommit converts one local commit. Only the files its diff touches
// are uploaded; a deleted path is recorded with an empty content hash.
// Blobs are read from the object database, so the checkout is not changed.
func (m *Mapper) ToLedgerCommit(ctx context.Context, store vcs.Store, hash string) (schema.Commit, error) {
	info, err := store.CommitInfo(hash)
	if err != nil {
		return schema.Commit{}, err
	}
	files, err := store.ChangedFiles(hash)
	if err != nil {
		return schema.Commit{}, err
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	storage := make(map[string]string, len(files))
	for _, p := range paths {
		data := files[p]
		if data == nil {
			storage[p] = ""
			continue
		}
		cid, err := m.blobs.Put(ctx, data)
		if err != nil {
			return schema.Commit{}, fmt.Errorf("failed to upload %s of %s: %w", p, short(hash), err)
		}
		storage[p] = cid
	}
	m.log.Debug().Str("commit", short(hash)).Int("files", len(storage)).Msg("commit uploaded")

	parents := info.Parents
	if parents == nil {
		parents = []string{}
	}
	return schema.Commit{
		Hash:          info.Hash,
		Author:        info.Author,
		AuthorEmail:   info.AuthorEmail,
		Message:       info.Message,
		ParentHashes:  parents,
		Timestamp:     info.Timestamp,
		StorageHashes: storage,
	}, nil
}

// ToLedgerCommits converts the given local commits in order.
func (m *Mapper) ToLedgerCommits(ctx context.Context, store vcs.Store, hashes []string) ([]schema.Commit, error) {
	out := make([]schema.Commit, 0, len(hashes))
	for _, h := range hashes {
		c, err := m.ToLedgerCommit(ctx, store, h)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ToLedgerBranch converts every commit reachable from the branch tip.
func (m *Mapper) ToLedgerBranch(ctx context.Context, store vcs.Store, name string) (schema.Branch, error) {
	return m.toLedgerBranch(ctx, store, name, make(map[string]schema.Commit))
}

func (m *Mapper) toLedgerBranch(ctx context.Context, store vcs.Store, name string, seen map[string]schema.Commit) (schema.Branch, error) {
	tip, err := store.BranchTip(name)
	if err != nil {
		return schema.Branch{}, err
	}
	hashes, err := store.Ancestors(tip)
	if err != nil {
		return schema.Branch{}, err
	}

	b := schema.NewBranch(name)
	for _, h := range hashes {
		c, ok := seen[h]
		if !ok {
			if c, err = m.ToLedgerCommit(ctx, store, h); err != nil {
				return schema.Branch{}, err
			}
			seen[h] = c
		}
		b.Commits[h] = c
	}
	return b, nil
}

// ToLedgerRepository assembles the full ledger record of a local store:
// every branch with every commit, owned by author. The directory CID is
// the repository name.
func (m *Mapper) ToLedgerRepository(ctx context.Context, store vcs.Store, author, name string, created time.Time) (*schema.Repository, error) {
	branches, err := store.Branches()
	if err != nil {
		return nil, err
	}

	repo := schema.NewRepository(name, author, name, created)
	seen := make(map[string]schema.Commit)
	for _, bn := range branches {
		b, err := m.toLedgerBranch(ctx, store, bn, seen)
		if err != nil {
			return nil, err
		}
		repo.Branches[bn] = b
		for h := range b.Commits {
			repo.CommitHashes[h] = true
		}
	}
	m.log.Info().Str("repo", name).Int("branches", len(branches)).Int("commits", len(seen)).Msg("repository converted")
	return repo, nil
}

// FromLedgerRepository replays every commit of repo into a new store at
// dir, points each branch at its newest commit and checks main out. The
// directory must not exist or be empty; it is removed again on failure.
func (m *Mapper) FromLedgerRepository(ctx context.Context, repo *schema.Repository, storeType vcs.Type, dir string) (vcs.Store, error) {
	order, err := ReplayOrder(repo)
	if err != nil {
		return nil, err
	}
	main, err := repo.Branch(schema.MainBranch)
	if err != nil {
		return nil, err
	}
	mainTip, ok := main.Last()
	if !ok {
		return nil, fmt.Errorf("%w: main branch of %s has no commits", ErrEmptyRepository, repo.Name)
	}

	store, err := vcs.Create(storeType, dir)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (vcs.Store, error) {
		_ = store.Close()
		_ = os.RemoveAll(store.Root())
		return nil, err
	}

	for _, bc := range order {
		if _, err := m.materialize(ctx, store, bc.Commit); err != nil {
			return fail(err)
		}
	}
	for _, name := range repo.BranchNames() {
		b := repo.Branches[name]
		tip, ok := b.Last()
		if !ok {
			continue
		}
		if err := store.SetBranch(name, tip.Hash); err != nil {
			return fail(err)
		}
	}
	if err := store.HardReset(mainTip.Hash); err != nil {
		return fail(err)
	}

	m.log.Info().Str("repo", repo.Name).Int("commits", len(order)).Str("dir", store.Root()).Msg("repository replayed")
	return store, nil
}

// ApplyCommits replays ledger commits onto a branch, oldest first, and
// moves the branch to the newest one. Commits already in the store are not
// recreated. When branch is checked out the working tree follows, and
// uncommitted changes make it fail. Returns the hashes that were created.
func (m *Mapper) ApplyCommits(ctx context.Context, store vcs.Store, branch string, commits []schema.Commit) ([]string, error) {
	if len(commits) == 0 {
		return nil, nil
	}
	order, err := topoSort(tagged(branch, commits), false)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, bc := range order {
		if store.HasCommit(bc.Hash) {
			continue
		}
		if _, err := m.materialize(ctx, store, bc.Commit); err != nil {
			return created, err
		}
		created = append(created, bc.Hash)
	}

	tip := order[len(order)-1].Hash
	current, err := store.CurrentBranch()
	if err != nil && !errors.Is(err, vcs.ErrDetached) {
		return created, err
	}
	if current == branch {
		err = store.FastForward(tip)
	} else {
		err = store.SetBranch(branch, tip)
	}
	if err != nil {
		return created, err
	}
	m.log.Debug().Str("branch", branch).Int("created", len(created)).Str("tip", short(tip)).Msg("commits applied")
	return created, nil
}

// materialize downloads every file of c and recreates it. All downloads
// finish before the commit object is written.
func (m *Mapper) materialize(ctx context.Context, store vcs.Store, c schema.Commit) (string, error) {
	if store.HasCommit(c.Hash) {
		return c.Hash, nil
	}
	files, err := m.download(ctx, c)
	if err != nil {
		return "", err
	}
	hash, err := store.Materialize(ctx, vcs.MaterializeOptions{
		Message:    c.Message,
		Parents:    c.ParentHashes,
		Author:     vcs.Identity{Name: c.Author, Email: c.AuthorEmail},
		Timestamp:  c.Timestamp,
		Files:      files,
		ExpectHash: c.Hash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to replay %s: %w", short(c.Hash), err)
	}
	return hash, nil
}

func (m *Mapper) download(ctx context.Context, c schema.Commit) (map[string][]byte, error) {
	files := make(map[string][]byte, len(c.StorageHashes))
	for path, cid := range c.StorageHashes {
		if cid == "" {
			files[path] = nil
			continue
		}
		data, err := m.blobs.Get(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s of %s: %w", path, short(c.Hash), err)
		}
		if err := content.Verify(cid, data); err != nil {
			return nil, err
		}
		if data == nil {
			data = []byte{}
		}
		files[path] = data
	}
	return files, nil
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
