package schema

import (
	"fmt"
	"sort"
	"time"
)

// MainBranch is the primary branch. It always exists and can be neither
// created, deleted nor renamed.
const MainBranch = "main"

// Commit is the ledger record of one local commit.
type Commit struct {
	Hash          string            `json:"hash"`
	Author        string            `json:"author"`
	AuthorEmail   string            `json:"authorEmail"`
	Message       string            `json:"message"`
	ParentHashes  []string          `json:"parentHashes"`
	Timestamp     time.Time         `json:"timestamp"`
	StorageHashes map[string]string `json:"storageHashes"`
}

// Validate checks the fields every ledger commit must carry.
func (c *Commit) Validate() error {
	if c.Hash == "" {
		return fmt.Errorf("hash is required")
	}
	if c.Author == "" {
		return fmt.Errorf("author is required")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// IsRoot reports whether c has no parents.
func (c *Commit) IsRoot() bool {
	return len(c.ParentHashes) == 0
}

// Branch is a named set of commits: everything reachable from its tip.
type Branch struct {
	Name    string            `json:"name"`
	Commits map[string]Commit `json:"commits"`
}

// NewBranch returns an empty branch.
func NewBranch(name string) Branch {
	return Branch{Name: name, Commits: make(map[string]Commit)}
}

// HasCommit reports whether hash belongs to the branch.
func (b *Branch) HasCommit(hash string) bool {
	_, ok := b.Commits[hash]
	return ok
}

// ValidCommit checks that c extends the branch. An empty branch accepts any
// commit. Otherwise the first parent found on the branch must be strictly
// older than c, at millisecond precision.
func (b *Branch) ValidCommit(c Commit) error {
	if b.HasCommit(c.Hash) {
		return fmt.Errorf("%w: commit %s already on branch %s", ErrInvalidCommit, c.Hash, b.Name)
	}
	if len(b.Commits) == 0 {
		return nil
	}
	for _, parent := range c.ParentHashes {
		p, ok := b.Commits[parent]
		if !ok {
			continue
		}
		if p.Timestamp.UnixMilli() >= c.Timestamp.UnixMilli() {
			return fmt.Errorf("%w: commit %s is not newer than its parent %s", ErrInvalidCommit, c.Hash, parent)
		}
		return nil
	}
	return fmt.Errorf("%w: commit %s has no parent on branch %s", ErrInvalidCommit, c.Hash, b.Name)
}

// Sorted returns the branch commits ordered oldest first. Equal timestamps
// are ordered by hash.
func (b *Branch) Sorted() []Commit {
	commits := make([]Commit, 0, len(b.Commits))
	for _, c := range b.Commits {
		commits = append(commits, c)
	}
	SortCommits(commits)
	return commits
}

// Last returns the newest commit on the branch.
func (b *Branch) Last() (Commit, bool) {
	if len(b.Commits) == 0 {
		return Commit{}, false
	}
	sorted := b.Sorted()
	return sorted[len(sorted)-1], true
}

// After returns the commits strictly newer than the commit with the given
// hash, oldest first. An empty hash returns every commit.
func (b *Branch) After(hash string) ([]Commit, error) {
	var since time.Time
	if hash != "" {
		c, ok := b.Commits[hash]
		if !ok {
			return nil, fmt.Errorf("%w: %s on branch %s", ErrCommitNotFound, hash, b.Name)
		}
		since = c.Timestamp
	}

	var out []Commit
	for _, c := range b.Sorted() {
		if hash == "" || c.Timestamp.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SortCommits orders commits by timestamp, then by hash.
func SortCommits(commits []Commit) {
	sort.SliceStable(commits, func(i, j int) bool {
		if !commits[i].Timestamp.Equal(commits[j].Timestamp) {
			return commits[i].Timestamp.Before(commits[j].Timestamp)
		}
		return commits[i].Hash < commits[j].Hash
	})
}
