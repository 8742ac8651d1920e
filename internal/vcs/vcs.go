// Package vcs defines the history store: the local, mutable, DAG-structured
// commit history that ledgit keeps in step with the ledger.
//
// # Architecture
//
// Every Store is bound to one repository path when it is opened. No
// operation changes the process working directory, so several stores can
// be used side by side.
//
// The contract covers what synchronization needs:
//   - Repository creation with a single root commit on main
//   - Branch management with an explicit existence query
//   - Committing the working tree, and materializing a commit from a
//     recorded author, timestamp, parent list and file set
//   - Ancestry walks and hard resets for rollback
//
// # Usage
//
//	store, err := vcs.Init(vcs.TypeGit, "/work/notes", vcs.Identity{Name: "alice", Email: "alice@example.com"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	info, committed, err := store.CommitAll(ctx, vcs.CommitOptions{Message: "update", IncludeUntracked: true})
//
// # Implementations
//
//   - internal/vcs/git: go-git backed store with deterministic commit hashing
package vcs

import (
	"context"
	"time"
)

// Type represents the history store backend type
type Type string

const (
	// TypeGit is the go-git backed store
	TypeGit Type = "git"
)

// String returns the string representation of the store type
func (t Type) String() string {
	return string(t)
}

// MainBranch is the protected primary branch every store starts with.
const MainBranch = "main"

// Store is the local history contract. Hashes are hex strings.
type Store interface {
	// ===================
	// Identity
	// ===================

	// Name returns the backend type
	Name() Type

	// Root returns the repository working directory
	Root() string

	// ===================
	// Reference Operations
	// ===================

	// RefExists returns true if the named branch exists
	RefExists(name string) bool

	// CurrentBranch returns the checked-out branch.
	// Returns ErrDetached when HEAD does not point at a branch.
	CurrentBranch() (string, error)

	// Head returns the commit hash HEAD resolves to
	Head() (string, error)

	// Branches returns all local branch names, sorted
	Branches() ([]string, error)

	// BranchTip returns the commit hash the branch points to
	BranchTip(name string) (string, error)

	// Checkout switches the working tree to the named branch.
	// Returns ErrRefNotFound if the branch does not exist.
	Checkout(name string) error

	// CreateBranch creates a branch at the current tip and checks it out.
	// Returns ErrProtectedRef for main and ErrRefExists for duplicates.
	CreateBranch(name string) error

	// DeleteBranch checks out fallback, then deletes the named branch.
	// Returns ErrProtectedRef for main.
	DeleteBranch(name, fallback string) error

	// RenameBranch moves a branch to a new name, keeping HEAD on it when it
	// is checked out. Returns ErrProtectedRef for main, ErrRefNotFound and
	// ErrRefExists.
	RenameBranch(oldName, newName string) error

	// SetBranch points the named branch at hash, creating it if needed.
	// The index and working tree are not touched.
	SetBranch(name, hash string) error

	// FastForward moves the current branch to hash and updates the index
	// and working tree. It refuses to overwrite uncommitted changes.
	FastForward(hash string) error

	// ===================
	// Commit Operations
	// ===================

	// CommitAll stages every modified file (and untracked files when
	// requested) and commits on the current branch. committed is false when
	// there was nothing to commit; that is not an error.
	CommitAll(ctx context.Context, opts CommitOptions) (info CommitInfo, committed bool, err error)

	// Materialize recreates a commit from its recorded metadata: the tree
	// is the first parent's tree with Files applied, and author and
	// committer both use the exact identity and timestamp given. Returns
	// the resulting hash. No branch is moved.
	Materialize(ctx context.Context, opts MaterializeOptions) (string, error)

	// HasCommit reports whether the commit object exists locally
	HasCommit(hash string) bool

	// CommitInfo returns the metadata of a commit
	CommitInfo(hash string) (CommitInfo, error)

	// ChangedFiles returns the files the commit changed relative to its
	// first parent (every file for a root commit). Deleted paths map to nil.
	// Blobs are read from the object database; the working tree is untouched.
	ChangedFiles(hash string) (map[string][]byte, error)

	// ===================
	// History Operations
	// ===================

	// Ancestors returns every commit reachable from tip, oldest first
	Ancestors(tip string) ([]string, error)

	// HardReset points the current branch at hash and resets the index
	// and working tree to it, discarding everything after it.
	HardReset(hash string) error

	// SoftReset points the current branch at hash and resets the index,
	// keeping the working tree as it is.
	SoftReset(hash string) error

	// Close releases the store
	Close() error
}

// Identity is the author recorded on commits.
type Identity struct {
	Name  string
	Email string
}

// CommitInfo describes one commit.
type CommitInfo struct {
	Hash        string
	Author      string
	AuthorEmail string
	Message     string
	Parents     []string
	Timestamp   time.Time
}

// CommitOptions configures CommitAll.
type CommitOptions struct {
	// Message is the commit message
	Message string

	// IncludeUntracked also commits files git does not track yet
	IncludeUntracked bool

	// Author overrides the store identity when set
	Author *Identity

	// Now overrides the clock. The commit timestamp is always strictly
	// later than the parent's, at one second resolution.
	Now func() time.Time
}

// MaterializeOptions configures Materialize.
type MaterializeOptions struct {
	Message   string
	Parents   []string
	Author    Identity
	Timestamp time.Time

	// Files maps slash-separated paths to their content. A nil value
	// deletes the path.
	Files map[string][]byte

	// ExpectHash, when set, makes Materialize fail with ErrHashMismatch
	// if the recreated commit hashes differently.
	ExpectHash string
}
