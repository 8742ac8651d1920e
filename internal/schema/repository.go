package schema

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Errors returned by repository validation. Wrapped errors carry the
// offending commit, branch or user.
var (
	// ErrInvalidCommit is returned when a commit does not extend the
	// repository or branch it is pushed to.
	ErrInvalidCommit = errors.New("invalid commit")

	// ErrCommitNotFound is returned when a referenced commit is unknown.
	ErrCommitNotFound = errors.New("commit not found")

	// ErrBranchNotFound is returned when a referenced branch is unknown.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrBranchExists is returned when adding a branch whose name is taken.
	ErrBranchExists = errors.New("branch already exists")

	// ErrProtectedBranch is returned for any attempt to delete or rename
	// the main branch.
	ErrProtectedBranch = errors.New("main branch is protected")

	// ErrNotAuthorized is returned when a user lacks the access an
	// operation requires.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrAccessUnchanged is returned when an access update would not
	// change anything, including users trying to change their own level.
	ErrAccessUnchanged = errors.New("access unchanged")
)

// Repository is the ledger record of a whole repository.
type Repository struct {
	Name         string            `json:"name"`
	Author       string            `json:"author"`
	DirectoryCID string            `json:"directoryCID"`
	CommitHashes map[string]bool   `json:"commitHashes"`
	Access       map[string]Access `json:"access"`
	Branches     map[string]Branch `json:"branches"`
	AccessLogs   []AccessLog       `json:"accessLogs"`
}

// NewRepository returns a repository holding an empty main branch, owned by
// author.
func NewRepository(name, author, directoryCID string, created time.Time) *Repository {
	return &Repository{
		Name:         name,
		Author:       author,
		DirectoryCID: directoryCID,
		CommitHashes: make(map[string]bool),
		Access:       map[string]Access{author: OwnerAccess},
		Branches:     map[string]Branch{MainBranch: NewBranch(MainBranch)},
		AccessLogs: []AccessLog{{
			Authorizer: author,
			Authorized: author,
			Timestamp:  created,
			Access:     OwnerAccess,
		}},
	}
}

// Key returns the ledger key of the repository.
func (r *Repository) Key() string {
	return RepoKey(r.Author, r.Name)
}

// RepoKey derives the ledger key for a repository: the base64 encoded
// SHA-256 of {"author":...,"name":...}.
func RepoKey(author, name string) string {
	js, _ := json.Marshal(map[string]string{"name": name, "author": author})
	sum := sha256.Sum256(js)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Normalize fills nil maps and rebuilds the access map from the access log
// when the record carries no access map.
func (r *Repository) Normalize() {
	if r.CommitHashes == nil {
		r.CommitHashes = make(map[string]bool)
	}
	if r.Branches == nil {
		r.Branches = make(map[string]Branch)
	}
	for name, b := range r.Branches {
		if b.Commits == nil {
			b.Commits = make(map[string]Commit)
		}
		if b.Name == "" {
			b.Name = name
		}
		r.Branches[name] = b
	}
	if r.Access == nil {
		r.Access = make(map[string]Access)
		for _, l := range r.AccessLogs {
			r.Access[l.Authorized] = l.Access
		}
	}
}

// Clone returns a deep copy of r.
func (r *Repository) Clone() *Repository {
	out := &Repository{
		Name:         r.Name,
		Author:       r.Author,
		DirectoryCID: r.DirectoryCID,
		CommitHashes: make(map[string]bool, len(r.CommitHashes)),
		Access:       make(map[string]Access, len(r.Access)),
		Branches:     make(map[string]Branch, len(r.Branches)),
		AccessLogs:   append([]AccessLog(nil), r.AccessLogs...),
	}
	for h := range r.CommitHashes {
		out.CommitHashes[h] = true
	}
	for u, a := range r.Access {
		out.Access[u] = a
	}
	for name, b := range r.Branches {
		nb := Branch{Name: b.Name, Commits: make(map[string]Commit, len(b.Commits))}
		for h, c := range b.Commits {
			nb.Commits[h] = c
		}
		out.Branches[name] = nb
	}
	return out
}

// HasCommit reports whether hash belongs to any branch of the repository.
func (r *Repository) HasCommit(hash string) bool {
	return r.CommitHashes[hash]
}

// HasBranch reports whether the named branch exists.
func (r *Repository) HasBranch(name string) bool {
	_, ok := r.Branches[name]
	return ok
}

// Branch returns the named branch.
func (r *Repository) Branch(name string) (Branch, error) {
	b, ok := r.Branches[name]
	if !ok {
		return Branch{}, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return b, nil
}

// BranchNames returns the branch names in lexical order.
func (r *Repository) BranchNames() []string {
	names := make([]string, 0, len(r.Branches))
	for name := range r.Branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidCommit checks that c can be appended to the named branch: the branch
// must exist and accept c, and every parent must already be in the
// repository.
func (r *Repository) ValidCommit(c Commit, branch string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommit, err)
	}
	b, err := r.Branch(branch)
	if err != nil {
		return err
	}
	if len(r.CommitHashes) == 0 {
		return nil
	}
	if err := b.ValidCommit(c); err != nil {
		return err
	}
	for _, parent := range c.ParentHashes {
		if !r.HasCommit(parent) {
			return fmt.Errorf("%w: parent %s of %s is not in repository %s", ErrInvalidCommit, parent, c.Hash, r.Name)
		}
	}
	return nil
}

// AddCommit validates c and appends it to the named branch. A missing
// branch is created first.
func (r *Repository) AddCommit(c Commit, branch string) error {
	if !r.HasBranch(branch) {
		r.Branches[branch] = NewBranch(branch)
	}
	if err := r.ValidCommit(c, branch); err != nil {
		return err
	}
	b := r.Branches[branch]
	b.Commits[c.Hash] = c
	r.CommitHashes[c.Hash] = true
	return nil
}

// AddCommits appends commits in order. Either every commit is added or the
// repository is left unchanged.
func (r *Repository) AddCommits(commits []Commit, branch string) error {
	if len(commits) == 0 {
		return fmt.Errorf("%w: no commits to add", ErrInvalidCommit)
	}
	staged := r.Clone()
	for _, c := range commits {
		if err := staged.AddCommit(c, branch); err != nil {
			return err
		}
	}
	*r = *staged
	return nil
}

// AddBranch adds a branch, including the commits it carries.
func (r *Repository) AddBranch(b Branch) error {
	if r.HasBranch(b.Name) {
		return fmt.Errorf("%w: %s", ErrBranchExists, b.Name)
	}
	if b.Commits == nil {
		b.Commits = make(map[string]Commit)
	}
	for h := range b.Commits {
		r.CommitHashes[h] = true
	}
	r.Branches[b.Name] = b
	return nil
}

// DeleteBranch removes a branch. Commit hashes stay in the repository.
func (r *Repository) DeleteBranch(name string) error {
	if name == MainBranch {
		return ErrProtectedBranch
	}
	if !r.HasBranch(name) {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	delete(r.Branches, name)
	return nil
}

// RenameBranch renames a branch. Neither name may be main.
func (r *Repository) RenameBranch(oldName, newName string) error {
	if oldName == MainBranch || newName == MainBranch {
		return ErrProtectedBranch
	}
	b, err := r.Branch(oldName)
	if err != nil {
		return err
	}
	if r.HasBranch(newName) {
		return fmt.Errorf("%w: %s", ErrBranchExists, newName)
	}
	delete(r.Branches, oldName)
	b.Name = newName
	r.Branches[newName] = b
	return nil
}

// UserAccess returns the access level of user, NoAccess when unknown.
func (r *Repository) UserAccess(user string) Access {
	if a, ok := r.Access[user]; ok {
		return a
	}
	return NoAccess
}

// CanRead reports whether user may read the repository.
func (r *Repository) CanRead(user string) bool {
	return r.UserAccess(user).AtLeast(ReadAccess)
}

// CanEdit reports whether user may push to the repository.
func (r *Repository) CanEdit(user string) bool {
	return r.UserAccess(user).AtLeast(ReadWriteAccess)
}

// IsOwner reports whether user owns the repository.
func (r *Repository) IsOwner(user string) bool {
	return r.UserAccess(user) == OwnerAccess
}

// UpdateAccess sets the access level of authorized on behalf of authorizer
// and appends the change to the access log. Only owners may change access,
// and nobody may change their own level.
func (r *Repository) UpdateAccess(authorized string, level Access, authorizer string, at time.Time) error {
	if !level.Valid() {
		return fmt.Errorf("unknown access level %d", int(level))
	}
	if !r.IsOwner(authorizer) {
		return fmt.Errorf("%w: %s is not an owner of %s", ErrNotAuthorized, authorizer, r.Name)
	}
	if authorizer == authorized {
		return fmt.Errorf("%w: %s cannot change their own access", ErrAccessUnchanged, authorizer)
	}
	if current, ok := r.Access[authorized]; ok && current == level {
		return fmt.Errorf("%w: %s already has %s", ErrAccessUnchanged, authorized, level)
	}

	r.AccessLogs = append(r.AccessLogs, AccessLog{
		Authorizer: authorizer,
		Authorized: authorized,
		Timestamp:  at,
		Access:     level,
	})
	r.Access[authorized] = level
	return nil
}

// Rebuild validates a repository record received from a client and returns
// its canonical form. Access is derived from the access log, which gets a
// single owner entry at created when empty. Every branch is replayed oldest
// commit first through AddCommit, main before the others.
func Rebuild(in *Repository, created time.Time) (*Repository, error) {
	if in.Name == "" || in.Author == "" {
		return nil, fmt.Errorf("%w: repository name and author are required", ErrInvalidCommit)
	}

	out := NewRepository(in.Name, in.Author, in.DirectoryCID, created)
	if len(in.AccessLogs) > 0 {
		out.AccessLogs = append([]AccessLog(nil), in.AccessLogs...)
		out.Access = make(map[string]Access, len(in.AccessLogs))
		for _, l := range in.AccessLogs {
			out.Access[l.Authorized] = l.Access
		}
	}
	if !out.IsOwner(out.Author) {
		return nil, fmt.Errorf("%w: %s does not own %s", ErrNotAuthorized, out.Author, out.Name)
	}

	names := make([]string, 0, len(in.Branches))
	for name := range in.Branches {
		if name != MainBranch {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{MainBranch}, names...)

	for _, name := range names {
		b, ok := in.Branches[name]
		if !ok {
			continue
		}
		if !out.HasBranch(name) {
			out.Branches[name] = NewBranch(name)
		}
		for _, c := range b.Sorted() {
			if err := out.AddCommit(c, name); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
