// Package reconcile keeps a local history store and the ledger congruent.
//
// # Overview
//
// The ledger is the source of truth. Local commits become ledger commits
// through Commit and Push; ledger commits become local commits through Pull
// and Clone. Whenever the ledger rejects a write, the local branch is reset
// to the last hash the ledger confirmed, so the local store never claims a
// commit the ledger refused.
//
// # Architecture
//
//	CLI ──> Client ──> Reconciler ──┬──> ledger.Gateway ──> chaincode / wsgateway
//	                                ├──> mapper.Mapper  ──> content.Store
//	                                └──> vcs.Store (go-git)
//
// Collaborators are built once per process and handed over in Deps.
//
// # Usage
//
//	client := reconcile.NewClient(deps)
//	defer client.Close()
//
//	r, err := client.Open(dir, ledger.RepoRef{Author: "alice", Name: "notes"})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	res, err := r.Pull(ctx, "main")
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/ledgit/internal/content"
	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/mapper"
	"github.com/mschirtzinger/ledgit/internal/schema"
	"github.com/mschirtzinger/ledgit/internal/vcs"
)

var (
	// ErrNoCommonAncestor is returned when a local branch and its ledger
	// counterpart share no commit.
	ErrNoCommonAncestor = errors.New("no common commit between local and ledger branch")

	// ErrOutOfSync is returned when the local branch does not descend from
	// the ledger tip, or both sides have commits the other lacks. Pull (or
	// revert) before retrying.
	ErrOutOfSync = errors.New("local branch is out of sync with the ledger")
)

// Deps are the collaborators shared by every operation of one process.
type Deps struct {
	// Ledger is the gateway to the ledger, acting as the local user
	Ledger *ledger.Gateway

	// Content stores file bytes
	Content content.Store

	// StoreType selects the history store backend (default: git)
	StoreType vcs.Type

	// Identity is the author of local commits
	Identity vcs.Identity

	// Logger for protocol traces (default: disabled)
	Logger *zerolog.Logger

	// Now is the clock for new records (default: time.Now)
	Now func() time.Time
}

// Client runs repository level operations and opens Reconcilers.
type Client struct {
	gw        *ledger.Gateway
	blobs     content.Store
	mapper    *mapper.Mapper
	storeType vcs.Type
	identity  vcs.Identity
	log       zerolog.Logger
	now       func() time.Time
}

// NewClient returns a Client over deps. The Client owns the ledger gateway
// and the content store: Close releases both.
func NewClient(deps Deps) *Client {
	log := zerolog.Nop()
	if deps.Logger != nil {
		log = *deps.Logger
	}
	storeType := deps.StoreType
	if storeType == "" {
		storeType = vcs.TypeGit
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		gw:        deps.Ledger,
		blobs:     deps.Content,
		mapper:    mapper.New(deps.Content, mapper.WithLogger(log)),
		storeType: storeType,
		identity:  deps.Identity,
		log:       log,
		now:       now,
	}
}

// Close releases the ledger connection and the content store.
func (c *Client) Close() error {
	return errors.Join(c.gw.Close(), c.blobs.Close())
}

// Ledger returns the ledger gateway
func (c *Client) Ledger() *ledger.Gateway {
	return c.gw
}

// Init creates a repository named name at dir with a single root commit and
// records it on the ledger, owned by the local user. When the ledger
// rejects it, the new directory is removed again.
func (c *Client) Init(ctx context.Context, dir, name string) (*Reconciler, error) {
	store, err := vcs.Init(c.storeType, dir, c.identity)
	if err != nil {
		return nil, err
	}
	discard := func(err error) (*Reconciler, error) {
		_ = store.Close()
		_ = os.RemoveAll(store.Root())
		return nil, err
	}

	repo, err := c.mapper.ToLedgerRepository(ctx, store, c.identity.Name, name, c.now())
	if err != nil {
		return discard(err)
	}
	if err := c.gw.AddNewRepo(ctx, repo); err != nil {
		return discard(fmt.Errorf("failed to record repository %s: %w", name, err))
	}

	ref := ledger.RepoRef{Author: c.identity.Name, Name: name}
	c.log.Info().Str("repo", ref.String()).Str("dir", store.Root()).Msg("repository initialized")
	return c.reconciler(store, ref), nil
}

// Clone replays the ledger record of ref into a new store at dir.
func (c *Client) Clone(ctx context.Context, ref ledger.RepoRef, dir string) (*Reconciler, error) {
	repo, err := c.gw.Clone(ctx, ref)
	if err != nil {
		return nil, err
	}
	store, err := c.mapper.FromLedgerRepository(ctx, repo, c.storeType, dir)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("repo", ref.String()).Str("dir", store.Root()).Msg("repository cloned")
	return c.reconciler(store, ref), nil
}

// Open binds the local store containing dir to the ledger repository ref.
func (c *Client) Open(dir string, ref ledger.RepoRef) (*Reconciler, error) {
	store, err := vcs.Open(dir)
	if err != nil {
		return nil, err
	}
	return c.reconciler(store, ref), nil
}

// Delete removes the repository from the ledger, then the local copy at
// dir when dir is not empty.
func (c *Client) Delete(ctx context.Context, ref ledger.RepoRef, dir string) error {
	if err := c.gw.DeleteRepo(ctx, ref); err != nil {
		return err
	}
	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("repository deleted from the ledger but not locally: %w", err)
		}
	}
	c.log.Info().Str("repo", ref.String()).Msg("repository deleted")
	return nil
}

func (c *Client) reconciler(store vcs.Store, ref ledger.RepoRef) *Reconciler {
	return &Reconciler{
		gw:     c.gw,
		mapper: c.mapper,
		store:  store,
		ref:    ref,
		log:    c.log.With().Str("repo", ref.String()).Logger(),
		now:    c.now,
		author: c.identity,
	}
}

// LatestCommonCommit returns the first hash of local that also appears in
// remote. Both lists are ordered newest first.
func LatestCommonCommit(local, remote []string) (string, bool) {
	in := make(map[string]bool, len(remote))
	for _, h := range remote {
		in[h] = true
	}
	for _, h := range local {
		if in[h] {
			return h, true
		}
	}
	return "", false
}

// newestFirst returns the hashes of a ledger branch, newest first.
func newestFirst(b schema.Branch) []string {
	sorted := b.Sorted()
	out := make([]string, len(sorted))
	for i, c := range sorted {
		out[len(sorted)-1-i] = c.Hash
	}
	return out
}

func reversed(hashes []string) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[len(hashes)-1-i] = h
	}
	return out
}
