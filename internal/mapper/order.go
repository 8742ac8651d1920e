package mapper

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/mschirtzinger/ledgit/internal/schema"
)

var (
	// ErrMissingParent is returned when a recorded commit names a parent
	// the repository does not contain.
	ErrMissingParent = errors.New("parent commit missing from repository")

	// ErrEmptyRepository is returned when a repository record has no
	// commits on main.
	ErrEmptyRepository = errors.New("repository has no commits")
)

// BranchCommit is a commit tagged with the branch it was read from.
type BranchCommit struct {
	Branch string
	schema.Commit
}

// CommitsChronological returns every commit of every branch, oldest first.
// A commit on several branches appears once per branch. Equal timestamps
// keep branch name order, then hash order.
func CommitsChronological(repo *schema.Repository) []BranchCommit {
	var out []BranchCommit
	for _, name := range repo.BranchNames() {
		b := repo.Branches[name]
		hashes := make([]string, 0, len(b.Commits))
		for h := range b.Commits {
			hashes = append(hashes, h)
		}
		sort.Strings(hashes)
		for _, h := range hashes {
			out = append(out, BranchCommit{Branch: name, Commit: b.Commits[h]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// ReplayOrder returns each commit of repo once, in chronological order
// repaired so that every parent precedes its children. Among commits whose
// parents are all placed, the oldest goes first. A parent that is not in
// the repository fails with ErrMissingParent.
func ReplayOrder(repo *schema.Repository) ([]BranchCommit, error) {
	var unique []BranchCommit
	seen := make(map[string]bool)
	for _, bc := range CommitsChronological(repo) {
		if seen[bc.Hash] {
			continue
		}
		seen[bc.Hash] = true
		unique = append(unique, bc)
	}
	return topoSort(unique, true)
}

func tagged(branch string, commits []schema.Commit) []BranchCommit {
	sorted := append([]schema.Commit(nil), commits...)
	schema.SortCommits(sorted)
	out := make([]BranchCommit, len(sorted))
	for i, c := range sorted {
		out[i] = BranchCommit{Branch: branch, Commit: c}
	}
	return out
}

// topoSort orders commits (given oldest first, without duplicates) with
// Kahn's algorithm, releasing ready commits by their input position. Parents
// outside the set are an error when strict, and assumed present otherwise.
func topoSort(commits []BranchCommit, strict bool) ([]BranchCommit, error) {
	index := make(map[string]int, len(commits))
	for i, c := range commits {
		index[c.Hash] = i
	}

	pending := make([]int, len(commits))
	children := make([][]int, len(commits))
	for i, c := range commits {
		for _, p := range c.ParentHashes {
			j, ok := index[p]
			if !ok {
				if strict {
					return nil, fmt.Errorf("%w: %s (parent of %s)", ErrMissingParent, p, c.Hash)
				}
				continue
			}
			pending[i]++
			children[j] = append(children[j], i)
		}
	}

	ready := &positions{}
	for i := range commits {
		if pending[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]BranchCommit, 0, len(commits))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		out = append(out, commits[i])
		for _, child := range children[i] {
			pending[child]--
			if pending[child] == 0 {
				heap.Push(ready, child)
			}
		}
	}
	if len(out) != len(commits) {
		return nil, fmt.Errorf("commit graph has a cycle among %d commits", len(commits)-len(out))
	}
	return out, nil
}

// positions is a min-heap of input positions.
type positions []int

func (p positions) Len() int           { return len(p) }
func (p positions) Less(i, j int) bool { return p[i] < p[j] }
func (p positions) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p *positions) Push(x any)        { *p = append(*p, x.(int)) }
func (p *positions) Pop() any {
	old := *p
	n := len(old)
	x := old[n-1]
	*p = old[:n-1]
	return x
}
