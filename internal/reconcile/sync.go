package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/mapper"
	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// Reconciler synchronizes one local store with one ledger repository.
// It is not safe for concurrent use.
type Reconciler struct {
	gw     *ledger.Gateway
	mapper *mapper.Mapper
	store  vcs.Store
	ref    ledger.RepoRef
	log    zerolog.Logger
	now    func() time.Time
	author vcs.Identity
}

// Store returns the local history store
func (r *Reconciler) Store() vcs.Store {
	return r.store
}

// Ref returns the ledger repository the store is bound to
func (r *Reconciler) Ref() ledger.RepoRef {
	return r.ref
}

// Close releases the local store. The Client keeps the ledger and content
// connections.
func (r *Reconciler) Close() error {
	return r.store.Close()
}

// PullResult describes the outcome of Pull.
type PullResult struct {
	Branch string

	// Common is the newest commit both sides shared before the pull
	Common string

	// UpToDate is true when the ledger had nothing the store lacked
	UpToDate bool

	// Applied lists the commits created locally, oldest first
	Applied []string
}

// Pull brings the local branch up to the ledger branch. A branch that only
// exists on the ledger is created locally. When the local branch has
// commits after the common commit and the ledger has too, Pull fails with
// ErrOutOfSync and changes nothing.
func (r *Reconciler) Pull(ctx context.Context, branch string) (*PullResult, error) {
	remote, err := r.gw.QueryBranch(ctx, r.ref, branch)
	if err != nil {
		return nil, err
	}
	res := &PullResult{Branch: branch}
	remoteOrder := newestFirst(remote)
	if len(remoteOrder) == 0 {
		res.UpToDate = true
		return res, nil
	}

	if !r.store.RefExists(branch) {
		applied, err := r.mapper.ApplyCommits(ctx, r.store, branch, remote.Sorted())
		if err != nil {
			return nil, fmt.Errorf("failed to replay branch %s: %w", branch, err)
		}
		res.Applied = applied
		r.log.Info().Str("branch", branch).Int("applied", len(applied)).Msg("branch pulled")
		return res, nil
	}

	localOrder, err := r.localOrder(branch)
	if err != nil {
		return nil, err
	}
	common, ok := LatestCommonCommit(localOrder, remoteOrder)
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", ErrNoCommonAncestor, branch)
	}
	res.Common = common
	if remoteOrder[0] == common {
		res.UpToDate = true
		return res, nil
	}
	if localOrder[0] != common {
		return nil, fmt.Errorf("%w: branch %s has local commits after %s and the ledger has new ones",
			ErrOutOfSync, branch, short(common))
	}

	commits, err := r.gw.Pull(ctx, r.ref, branch, common)
	if err != nil {
		return nil, err
	}
	applied, err := r.mapper.ApplyCommits(ctx, r.store, branch, commits)
	if err != nil {
		return nil, fmt.Errorf("failed to replay branch %s: %w", branch, err)
	}
	res.Applied = applied
	if len(applied) == 0 {
		res.UpToDate = true
	}
	r.log.Info().Str("branch", branch).Str("common", short(common)).Int("applied", len(applied)).Msg("branch pulled")
	return res, nil
}

// CommitResult describes the outcome of Commit.
type CommitResult struct {
	Branch string
	Hash   string

	// Committed is false when the working tree had no changes
	Committed bool

	// Files is the number of paths the commit changed
	Files int
}

// Commit records the working tree changes on branch and pushes the new
// commit to the ledger. The local tip must equal the ledger tip.
//
// If the file contents cannot be stored the commit is undone and the
// changes stay in the working tree. If the ledger rejects the commit the
// branch is hard reset to where it was. A transport failure leaves the
// commit local; Push sends it later.
func (r *Reconciler) Commit(ctx context.Context, branch, message string, includeUntracked bool) (*CommitResult, error) {
	if err := r.requireCurrent(branch); err != nil {
		return nil, err
	}
	pre, err := r.store.BranchTip(branch)
	if err != nil {
		return nil, err
	}
	remoteTip, err := r.gw.CheckoutLast(ctx, r.ref, branch)
	if err != nil {
		return nil, err
	}
	if remoteTip != pre {
		return nil, fmt.Errorf("%w: local tip %s, ledger tip %s", ErrOutOfSync, short(pre), short(remoteTip))
	}

	opts := vcs.CommitOptions{
		Message:          message,
		IncludeUntracked: includeUntracked,
		Now:              r.now,
	}
	if r.author.Name != "" {
		opts.Author = &r.author
	}
	info, committed, err := r.store.CommitAll(ctx, opts)
	if err != nil {
		return nil, err
	}
	res := &CommitResult{Branch: branch}
	if !committed {
		r.log.Info().Str("branch", branch).Msg("nothing to commit")
		return res, nil
	}
	res.Hash = info.Hash

	c, err := r.mapper.ToLedgerCommit(ctx, r.store, info.Hash)
	if err != nil {
		if resetErr := r.store.SoftReset(pre); resetErr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to undo commit %s: %w", short(info.Hash), resetErr))
		}
		return nil, err
	}
	res.Files = len(c.StorageHashes)

	if err := r.gw.Push(ctx, r.ref, branch, c); err != nil {
		if !ledger.IsRejected(err) {
			r.log.Warn().Err(err).Str("branch", branch).Str("commit", short(info.Hash)).Msg("commit kept locally, push it later")
			return res, err
		}
		return nil, r.rollback(branch, pre, err)
	}

	res.Committed = true
	r.log.Info().Str("branch", branch).Str("commit", short(info.Hash)).Int("files", res.Files).Msg("commit recorded")
	return res, nil
}

// PushResult describes the outcome of Push.
type PushResult struct {
	Branch string

	// Pushed lists the commits sent to the ledger, oldest first
	Pushed []string
}

// Push sends every local commit newer than the ledger tip as one batch.
// The ledger tip must be an ancestor of the local tip. On rejection the
// branch is hard reset to the ledger tip.
func (r *Reconciler) Push(ctx context.Context, branch string) (*PushResult, error) {
	remote, err := r.gw.QueryBranch(ctx, r.ref, branch)
	if err != nil {
		return nil, err
	}
	last, ok := remote.Last()
	if !ok {
		return nil, fmt.Errorf("%w: ledger branch %s has no commits", ErrOutOfSync, branch)
	}

	tip, err := r.store.BranchTip(branch)
	if err != nil {
		return nil, err
	}
	ancestors, err := r.store.Ancestors(tip)
	if err != nil {
		return nil, err
	}
	if !contains(ancestors, last.Hash) {
		return nil, fmt.Errorf("%w: ledger tip %s is not in the history of %s", ErrOutOfSync, short(last.Hash), branch)
	}

	var pending []string
	for _, h := range ancestors {
		if remote.HasCommit(h) {
			continue
		}
		info, err := r.store.CommitInfo(h)
		if err != nil {
			return nil, err
		}
		if info.Timestamp.After(last.Timestamp) {
			pending = append(pending, h)
		}
	}
	res := &PushResult{Branch: branch}
	if len(pending) == 0 {
		return res, nil
	}

	commits, err := r.mapper.ToLedgerCommits(ctx, r.store, pending)
	if err != nil {
		return nil, err
	}
	if err := r.gw.PushMultiple(ctx, r.ref, branch, commits); err != nil {
		if !ledger.IsRejected(err) {
			return nil, err
		}
		return nil, r.rollback(branch, last.Hash, err)
	}

	res.Pushed = pending
	r.log.Info().Str("branch", branch).Int("commits", len(pending)).Msg("branch pushed")
	return res, nil
}

// Revert hard resets branch to hash, discarding later local commits and
// working tree changes. An empty hash means the ledger tip.
func (r *Reconciler) Revert(ctx context.Context, branch, hash string) error {
	if hash == "" {
		last, err := r.gw.CheckoutLast(ctx, r.ref, branch)
		if err != nil {
			return err
		}
		if last == "" {
			return fmt.Errorf("%w: ledger branch %s has no commits", ErrOutOfSync, branch)
		}
		hash = last
	}
	if !r.store.HasCommit(hash) {
		return fmt.Errorf("%w: commit %s", vcs.ErrRefNotFound, hash)
	}
	if err := r.moveBranch(branch, hash); err != nil {
		return err
	}
	r.log.Info().Str("branch", branch).Str("commit", short(hash)).Msg("branch reverted")
	return nil
}

// State is the synchronization state of one branch.
type State int

const (
	// Synced means both tips are the same commit
	Synced State = iota
	// LocalAhead means the store has commits the ledger lacks
	LocalAhead
	// RemoteAhead means the ledger has commits the store lacks
	RemoteAhead
	// Diverged means both sides have commits the other lacks
	Diverged
	// LocalOnly means the branch is not on the ledger
	LocalOnly
)

func (s State) String() string {
	switch s {
	case Synced:
		return "synced"
	case LocalAhead:
		return "local-ahead"
	case RemoteAhead:
		return "remote-ahead"
	case Diverged:
		return "diverged"
	case LocalOnly:
		return "local-only"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusResult compares a local branch with its ledger counterpart.
type StatusResult struct {
	Branch    string
	LocalTip  string
	RemoteTip string
	Common    string
	State     State

	// Ahead and Behind count commits after Common on each side
	Ahead  int
	Behind int
}

// Status reports how branch relates to the ledger without changing either.
func (r *Reconciler) Status(ctx context.Context, branch string) (*StatusResult, error) {
	res := &StatusResult{Branch: branch}

	var localOrder []string
	if r.store.RefExists(branch) {
		var err error
		if localOrder, err = r.localOrder(branch); err != nil {
			return nil, err
		}
		res.LocalTip = localOrder[0]
	}

	remote, err := r.gw.QueryBranch(ctx, r.ref, branch)
	switch {
	case ledger.IsNotFound(err) && localOrder != nil:
		res.State = LocalOnly
		res.Ahead = len(localOrder)
		return res, nil
	case err != nil:
		return nil, err
	}
	remoteOrder := newestFirst(remote)
	if len(remoteOrder) > 0 {
		res.RemoteTip = remoteOrder[0]
	}

	if localOrder == nil {
		res.State = RemoteAhead
		res.Behind = len(remoteOrder)
		return res, nil
	}
	common, ok := LatestCommonCommit(localOrder, remoteOrder)
	if !ok {
		res.State = Diverged
		res.Ahead, res.Behind = len(localOrder), len(remoteOrder)
		return res, nil
	}
	res.Common = common
	res.Ahead = indexOf(localOrder, common)
	res.Behind = indexOf(remoteOrder, common)

	switch {
	case res.Ahead > 0 && res.Behind > 0:
		res.State = Diverged
	case res.Ahead > 0:
		res.State = LocalAhead
	case res.Behind > 0:
		res.State = RemoteAhead
	default:
		res.State = Synced
	}
	return res, nil
}

// History returns the local commits of branch newer than since, newest
// first. A zero since returns every commit.
func (r *Reconciler) History(branch string, since time.Time) ([]vcs.CommitInfo, error) {
	order, err := r.localOrder(branch)
	if err != nil {
		return nil, err
	}
	var out []vcs.CommitInfo
	for _, h := range order {
		info, err := r.store.CommitInfo(h)
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && !info.Timestamp.After(since) {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// localOrder returns the hashes reachable from the local branch tip,
// newest first.
func (r *Reconciler) localOrder(branch string) ([]string, error) {
	tip, err := r.store.BranchTip(branch)
	if err != nil {
		return nil, err
	}
	ancestors, err := r.store.Ancestors(tip)
	if err != nil {
		return nil, err
	}
	return reversed(ancestors), nil
}

func (r *Reconciler) requireCurrent(branch string) error {
	current, err := r.store.CurrentBranch()
	if err != nil {
		return err
	}
	if current != branch {
		return fmt.Errorf("branch %s is not checked out (on %s)", branch, current)
	}
	return nil
}

// moveBranch hard resets branch to hash when it is checked out, and moves
// the reference alone otherwise.
func (r *Reconciler) moveBranch(branch, hash string) error {
	current, err := r.store.CurrentBranch()
	if err != nil && !errors.Is(err, vcs.ErrDetached) {
		return err
	}
	if current == branch {
		return r.store.HardReset(hash)
	}
	return r.store.SetBranch(branch, hash)
}

// rollback restores branch to hash after the ledger refused cause.
func (r *Reconciler) rollback(branch, hash string, cause error) error {
	if err := r.moveBranch(branch, hash); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to reset %s to %s: %w", branch, short(hash), err))
	}
	r.log.Warn().Err(cause).Str("branch", branch).Str("reset_to", short(hash)).Msg("ledger rejected write, branch reset")
	return cause
}

func contains(hashes []string, h string) bool {
	return indexOf(hashes, h) >= 0
}

func indexOf(hashes []string, h string) int {
	for i, x := range hashes {
		if x == h {
			return i
		}
	}
	return -1
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
