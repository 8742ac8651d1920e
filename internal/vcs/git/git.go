package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// InitialMessage is the message of the root commit every store starts with.
const InitialMessage = "Initial commit"

// Git implements vcs.Store for a git repository.
type Git struct {
	// root is the working directory of the repository
	root string

	repo     *gogit.Repository
	identity vcs.Identity
}

// Open opens the repository rooted at root.
func Open(root string) (*Git, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	repo, err := gogit.PlainOpen(abs)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", vcs.ErrNotInVCS, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	g := &Git{root: abs, repo: repo}
	g.identity = g.configIdentity()
	return g, nil
}

// Create creates an empty repository at root whose HEAD points at the
// unborn main branch.
func Create(root string) (*Git, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := vcs.CheckEmpty(abs); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", vcs.ErrStoreInit, err)
	}
	repo, err := gogit.PlainInitWithOptions(abs, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(vcs.MainBranch)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcs.ErrStoreInit, err)
	}
	return &Git{root: abs, repo: repo}, nil
}

// Init creates a repository at root holding a single empty root commit on
// main, authored by author. root must not exist or be an empty directory.
func Init(root string, author vcs.Identity) (*Git, error) {
	g, err := Create(root)
	if err != nil {
		return nil, err
	}
	g.identity = author
	if err := g.setConfigIdentity(author); err != nil {
		return nil, err
	}

	now := time.Now().Truncate(time.Second)
	treeHash, err := g.writeTree(nil)
	if err != nil {
		return nil, err
	}
	hash, err := g.writeCommit(&object.Commit{
		Author:    signature(author, now),
		Committer: signature(author, now),
		Message:   InitialMessage,
		TreeHash:  treeHash,
	})
	if err != nil {
		return nil, err
	}
	if err := g.setRef(vcs.MainBranch, hash); err != nil {
		return nil, err
	}
	return g, nil
}

// Name returns the store type (git)
func (g *Git) Name() vcs.Type {
	return vcs.TypeGit
}

// Root returns the repository working directory
func (g *Git) Root() string {
	return g.root
}

// Identity returns the identity used for commits without an explicit author
func (g *Git) Identity() vcs.Identity {
	return g.identity
}

// Close implements vcs.Store. go-git keeps no open handles for filesystem
// repositories.
func (g *Git) Close() error {
	return nil
}

func (g *Git) configIdentity() vcs.Identity {
	for _, scope := range []config.Scope{config.LocalScope, config.GlobalScope} {
		cfg, err := g.repo.ConfigScoped(scope)
		if err != nil {
			continue
		}
		if cfg.User.Name != "" {
			return vcs.Identity{Name: cfg.User.Name, Email: cfg.User.Email}
		}
	}
	return vcs.Identity{}
}

func (g *Git) setConfigIdentity(id vcs.Identity) error {
	cfg, err := g.repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read repository config: %w", err)
	}
	cfg.User.Name = id.Name
	cfg.User.Email = id.Email
	if err := g.repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to write repository config: %w", err)
	}
	return nil
}

func signature(id vcs.Identity, when time.Time) object.Signature {
	return object.Signature{Name: id.Name, Email: id.Email, When: when}
}

func (g *Git) resolve(hash string) (*object.Commit, error) {
	if !plumbing.IsHash(hash) {
		return nil, fmt.Errorf("%w: %q is not a commit hash", vcs.ErrRefNotFound, hash)
	}
	c, err := g.repo.CommitObject(plumbing.NewHash(hash))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: commit %s", vcs.ErrRefNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}
	return c, nil
}
