package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mschirtzinger/ledgit/internal/schema"
)

// RepoRef names a repository on the ledger.
type RepoRef struct {
	Author string
	Name   string
}

func (r RepoRef) String() string {
	return r.Author + "/" + r.Name
}

// ParseRepoRef parses "author/name".
func ParseRepoRef(s string) (RepoRef, error) {
	author, name, ok := strings.Cut(s, "/")
	if !ok || author == "" || name == "" || strings.Contains(name, "/") {
		return RepoRef{}, fmt.Errorf("invalid repository %q: want author/name", s)
	}
	return RepoRef{Author: author, Name: name}, nil
}

// Key returns the ledger key of the repository.
func (r RepoRef) Key() string {
	return schema.RepoKey(r.Author, r.Name)
}

// Gateway wraps a Client with one typed method per chaincode function.
type Gateway struct {
	client Client
}

// NewGateway returns a Gateway over client. Closing the gateway closes the
// client.
func NewGateway(client Client) *Gateway {
	return &Gateway{client: client}
}

// Client returns the underlying client
func (g *Gateway) Client() Client {
	return g.client
}

// Close closes the underlying client
func (g *Gateway) Close() error {
	return g.client.Close()
}

func (g *Gateway) invoke(ctx context.Context, fn string, args ...string) ([]byte, error) {
	out, err := g.client.Invoke(ctx, fn, args...)
	if err != nil {
		var te *TransactionError
		if errors.As(err, &te) && te.Function == "" {
			te.Function = fn
		}
		return nil, err
	}
	return out, nil
}

func (g *Gateway) query(ctx context.Context, v any, fn string, args ...string) error {
	out, err := g.invoke(ctx, fn, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", fn, err)
	}
	return nil
}

func encode(v any) (string, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode ledger argument: %w", err)
	}
	return string(js), nil
}

// ===================
// Repositories
// ===================

// AddNewRepo records a new repository. The caller must be its author.
func (g *Gateway) AddNewRepo(ctx context.Context, repo *schema.Repository) error {
	arg, err := encode(repo)
	if err != nil {
		return err
	}
	_, err = g.invoke(ctx, FnAddNewRepo, arg)
	return err
}

// QueryRepo returns the repository header: name, author and directory CID.
// Branches and commits are not included.
func (g *Gateway) QueryRepo(ctx context.Context, ref RepoRef) (*schema.Repository, error) {
	var repo schema.Repository
	if err := g.query(ctx, &repo, FnQueryRepo, ref.Author, ref.Name); err != nil {
		return nil, err
	}
	repo.Normalize()
	return &repo, nil
}

// Clone returns the full repository record. Requires read access.
func (g *Gateway) Clone(ctx context.Context, ref RepoRef) (*schema.Repository, error) {
	var repo schema.Repository
	if err := g.query(ctx, &repo, FnClone, ref.Author, ref.Name); err != nil {
		return nil, err
	}
	repo.Normalize()
	return &repo, nil
}

// DeleteRepo removes the repository record. Owners only.
func (g *Gateway) DeleteRepo(ctx context.Context, ref RepoRef) error {
	_, err := g.invoke(ctx, FnDeleteRepo, ref.Author, ref.Name)
	return err
}

// RenameRepo renames the repository. Owners only.
func (g *Gateway) RenameRepo(ctx context.Context, ref RepoRef, newName string) error {
	_, err := g.invoke(ctx, FnRenameRepo, ref.Author, ref.Name, newName)
	return err
}

// ===================
// Branches
// ===================

// AddNewBranch records a branch together with the commits it carries.
func (g *Gateway) AddNewBranch(ctx context.Context, ref RepoRef, branch schema.Branch) error {
	arg, err := encode(branch)
	if err != nil {
		return err
	}
	_, err = g.invoke(ctx, FnAddNewBranch, ref.Author, ref.Name, arg)
	return err
}

// RenameBranch renames a branch other than main.
func (g *Gateway) RenameBranch(ctx context.Context, ref RepoRef, oldName, newName string) error {
	_, err := g.invoke(ctx, FnRenameBranch, ref.Author, ref.Name, oldName, newName)
	return err
}

// DeleteBranch removes a branch other than main.
func (g *Gateway) DeleteBranch(ctx context.Context, ref RepoRef, branch string) error {
	_, err := g.invoke(ctx, FnDeleteBranch, ref.Author, ref.Name, branch)
	return err
}

// QueryBranches returns the branch names of the repository, sorted.
func (g *Gateway) QueryBranches(ctx context.Context, ref RepoRef) ([]string, error) {
	var names []string
	if err := g.query(ctx, &names, FnQueryBranches, ref.Author, ref.Name); err != nil {
		return nil, err
	}
	return names, nil
}

// QueryBranch returns one branch with all of its commits.
func (g *Gateway) QueryBranch(ctx context.Context, ref RepoRef, branch string) (schema.Branch, error) {
	var b schema.Branch
	if err := g.query(ctx, &b, FnQueryBranch, ref.Author, ref.Name, branch); err != nil {
		return schema.Branch{}, err
	}
	if b.Commits == nil {
		b.Commits = make(map[string]schema.Commit)
	}
	return b, nil
}

// ===================
// Commits
// ===================

// Push appends one commit to a branch, creating the branch if needed.
func (g *Gateway) Push(ctx context.Context, ref RepoRef, branch string, c schema.Commit) error {
	arg, err := encode(c)
	if err != nil {
		return err
	}
	_, err = g.invoke(ctx, FnPush, ref.Author, ref.Name, branch, arg)
	return err
}

// PushMultiple appends commits, oldest first, as one batch. Either all of
// them are recorded or none is.
func (g *Gateway) PushMultiple(ctx context.Context, ref RepoRef, branch string, commits []schema.Commit) error {
	arg, err := encode(commits)
	if err != nil {
		return err
	}
	_, err = g.invoke(ctx, FnPushMultiple, ref.Author, ref.Name, branch, arg)
	return err
}

// Pull returns the branch commits strictly newer than the commit after,
// oldest first. An empty after returns every commit.
func (g *Gateway) Pull(ctx context.Context, ref RepoRef, branch, after string) ([]schema.Commit, error) {
	var commits []schema.Commit
	if err := g.query(ctx, &commits, FnPull, ref.Author, ref.Name, branch, after); err != nil {
		return nil, err
	}
	schema.SortCommits(commits)
	return commits, nil
}

// CheckoutLast returns the hash of the newest commit on the branch, or ""
// for an empty branch.
func (g *Gateway) CheckoutLast(ctx context.Context, ref RepoRef, branch string) (string, error) {
	out, err := g.invoke(ctx, FnCheckoutLast, ref.Author, ref.Name, branch)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ===================
// Access
// ===================

// UpdateAccess sets the access level of user. Owners only.
func (g *Gateway) UpdateAccess(ctx context.Context, ref RepoRef, user string, level schema.Access) error {
	_, err := g.invoke(ctx, FnUpdateRepoUserAccess, ref.Author, ref.Name, user, strconv.Itoa(int(level)))
	return err
}

// QueryAccess returns the access log of the repository, oldest first.
func (g *Gateway) QueryAccess(ctx context.Context, ref RepoRef) ([]schema.AccessLog, error) {
	var logs []schema.AccessLog
	if err := g.query(ctx, &logs, FnQueryRepoUserAccess, ref.Author, ref.Name); err != nil {
		return nil, err
	}
	return logs, nil
}

// ===================
// Users
// ===================

// RegisterUser records a new user.
func (g *Gateway) RegisterUser(ctx context.Context, u schema.User) error {
	_, err := g.invoke(ctx, FnRegisterNewUser, u.Name, u.Email, u.PublicKey)
	return err
}

// QueryUser returns the public record of a user.
func (g *Gateway) QueryUser(ctx context.Context, name string) (schema.User, error) {
	var u schema.User
	err := g.query(ctx, &u, FnQueryUser, name)
	return u, err
}

// ChangePublicKey replaces the public key of the calling user.
func (g *Gateway) ChangePublicKey(ctx context.Context, key string) error {
	_, err := g.invoke(ctx, FnChangePublicKey, key)
	return err
}
