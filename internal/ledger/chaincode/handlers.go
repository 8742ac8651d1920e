package chaincode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/schema"
)

func (c *Contract) routes() map[string]handler {
	return map[string]handler{
		ledger.FnRegisterNewUser:      registerNewUser,
		ledger.FnQueryUser:            queryUser,
		ledger.FnChangePublicKey:      changePublicKey,
		ledger.FnAddNewRepo:           addNewRepo,
		ledger.FnQueryRepo:            queryRepo,
		ledger.FnClone:                clone,
		ledger.FnDeleteRepo:           deleteRepo,
		ledger.FnRenameRepo:           renameRepo,
		ledger.FnAddNewBranch:         addNewBranch,
		ledger.FnRenameBranch:         renameBranch,
		ledger.FnDeleteBranch:         deleteBranch,
		ledger.FnQueryBranches:        queryBranches,
		ledger.FnQueryBranch:          queryBranch,
		ledger.FnPush:                 push,
		ledger.FnPushMultiple:         pushMultiple,
		ledger.FnPull:                 pull,
		ledger.FnCheckoutLast:         checkoutLast,
		ledger.FnUpdateRepoUserAccess: updateRepoUserAccess,
		ledger.FnQueryRepoUserAccess:  queryRepoUserAccess,
	}
}

func expectArgs(args []string, n int) error {
	if len(args) != n {
		return ledger.Reject(ledger.CodeInvalid, "incorrect number of arguments, expecting %d", n)
	}
	return nil
}

// reject maps schema validation errors to ledger rejections.
func reject(err error) error {
	code := ledger.CodeInvalid
	switch {
	case errors.Is(err, schema.ErrBranchNotFound), errors.Is(err, schema.ErrCommitNotFound):
		code = ledger.CodeNotFound
	case errors.Is(err, schema.ErrBranchExists):
		code = ledger.CodeConflict
	case errors.Is(err, schema.ErrNotAuthorized):
		code = ledger.CodeUnauthorized
	}
	return &ledger.TransactionError{Code: code, Message: err.Error()}
}

func respond(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return out, nil
}

func decodeUser(out []byte) (schema.User, error) {
	var u schema.User
	if err := json.Unmarshal(out, &u); err != nil {
		return u, fmt.Errorf("failed to decode user: %w", err)
	}
	return u, nil
}

// readable loads the repository named by args[0] (author) and args[1]
// (name) and checks that the caller may read it.
func readable(ctx context.Context, t *txn, args []string) (*schema.Repository, error) {
	repo, err := t.loadRepo(ctx, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !repo.CanRead(t.user) {
		return nil, ledger.Reject(ledger.CodeUnauthorized, "user %s does not have read access to %s", t.user, repo.Name)
	}
	return repo, nil
}

func editable(ctx context.Context, t *txn, args []string) (*schema.Repository, error) {
	repo, err := t.loadRepo(ctx, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !repo.CanEdit(t.user) {
		return nil, ledger.Reject(ledger.CodeUnauthorized, "user %s is not authorized to edit %s", t.user, repo.Name)
	}
	return repo, nil
}

func owned(ctx context.Context, t *txn, args []string) (*schema.Repository, error) {
	repo, err := t.loadRepo(ctx, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if !repo.IsOwner(t.user) {
		return nil, ledger.Reject(ledger.CodeUnauthorized, "user %s does not own %s", t.user, repo.Name)
	}
	return repo, nil
}

// ===================
// Users
// ===================

// registerNewUser: userName, userEmail, publicKey
func registerNewUser(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	u := schema.User{Name: args[0], Email: args[1], PublicKey: args[2]}
	if err := u.Validate(); err != nil {
		return nil, ledger.Reject(ledger.CodeInvalid, "%v", err)
	}
	if t.user != "" && t.user != u.Name {
		return nil, ledger.Reject(ledger.CodeUnauthorized, "users can only register themselves")
	}
	if _, err := t.loadUser(ctx, u.Name); err == nil {
		return nil, ledger.Reject(ledger.CodeConflict, "user %s already exists", u.Name)
	} else if !ledger.IsNotFound(err) {
		return nil, err
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (name, email, public_key) VALUES (?, ?, ?)`, u.Name, u.Email, u.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return []byte("user " + u.Name + " registered"), nil
}

// queryUser: userName
func queryUser(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	u, err := t.loadUser(ctx, args[0])
	if err != nil {
		return nil, err
	}
	return respond(u)
}

// changePublicKey: publicKey
func changePublicKey(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	if args[0] == "" {
		return nil, ledger.Reject(ledger.CodeInvalid, "public key is required")
	}
	if _, err := t.loadUser(ctx, t.user); err != nil {
		return nil, err
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET public_key = ? WHERE name = ?`, args[0], t.user)
	if err != nil {
		return nil, fmt.Errorf("failed to update public key: %w", err)
	}
	return []byte("public key changed for user " + t.user), nil
}

// ===================
// Repositories
// ===================

// addNewRepo: repository JSON
func addNewRepo(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	var in schema.Repository
	if err := json.Unmarshal([]byte(args[0]), &in); err != nil {
		return nil, ledger.Reject(ledger.CodeInvalid, "repository is invalid: %v", err)
	}
	if in.Author != t.user {
		return nil, ledger.Reject(ledger.CodeUnauthorized, "repository author %s is not the signing user %s", in.Author, t.user)
	}
	repo, err := schema.Rebuild(&in, t.now)
	if err != nil {
		return nil, reject(err)
	}
	exists, err := t.repoExists(ctx, repo.Key())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ledger.Reject(ledger.CodeConflict, "repository %s/%s already exists", repo.Author, repo.Name)
	}
	if err := t.insertRepo(ctx, repo); err != nil {
		return nil, err
	}
	return []byte("repository " + repo.Name + " added"), nil
}

type repoHeader struct {
	Name         string `json:"name"`
	Author       string `json:"author"`
	DirectoryCID string `json:"directoryCID"`
}

// queryRepo: repoAuthor, repoName
func queryRepo(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	repo, err := t.loadRepo(ctx, args[0], args[1])
	if err != nil {
		return nil, err
	}
	return respond(repoHeader{Name: repo.Name, Author: repo.Author, DirectoryCID: repo.DirectoryCID})
}

// clone: repoAuthor, repoName
func clone(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	repo, err := readable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	return respond(repo)
}

// deleteRepo: repoAuthor, repoName
func deleteRepo(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	repo, err := owned(ctx, t, args)
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM repos WHERE repo_key = ?`, repo.Key()); err != nil {
		return nil, fmt.Errorf("failed to delete repository: %w", err)
	}
	return []byte("repository " + repo.Name + " deleted"), nil
}

// renameRepo: repoAuthor, repoName, newRepoName
func renameRepo(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	repo, err := owned(ctx, t, args)
	if err != nil {
		return nil, err
	}
	newName := args[2]
	if newName == "" || newName == repo.Name {
		return nil, ledger.Reject(ledger.CodeInvalid, "invalid new repository name %q", newName)
	}
	newKey := schema.RepoKey(repo.Author, newName)
	exists, err := t.repoExists(ctx, newKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ledger.Reject(ledger.CodeConflict, "repository %s/%s already exists", repo.Author, newName)
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE repos SET repo_key = ?, name = ? WHERE repo_key = ?`, newKey, newName, repo.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to rename repository: %w", err)
	}
	return []byte("repository renamed to " + newName), nil
}

// ===================
// Branches
// ===================

// addNewBranch: repoAuthor, repoName, branch JSON
func addNewBranch(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	var b schema.Branch
	if err := json.Unmarshal([]byte(args[2]), &b); err != nil || b.Name == "" {
		return nil, ledger.Reject(ledger.CodeInvalid, "branch is invalid")
	}
	repo, err := editable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	if b.Commits == nil {
		b.Commits = make(map[string]schema.Commit)
	}
	for _, c := range b.Commits {
		for _, p := range c.ParentHashes {
			if !repo.HasCommit(p) && !b.HasCommit(p) {
				return nil, ledger.Reject(ledger.CodeInvalid, "parent %s of %s is unknown", p, c.Hash)
			}
		}
	}
	if err := repo.AddBranch(b); err != nil {
		return nil, reject(err)
	}
	if err := t.insertBranch(ctx, repo.Key(), b); err != nil {
		return nil, err
	}
	return []byte("branch " + b.Name + " added"), nil
}

// renameBranch: repoAuthor, repoName, branchName, newBranchName
func renameBranch(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 4); err != nil {
		return nil, err
	}
	repo, err := editable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	if err := repo.RenameBranch(args[2], args[3]); err != nil {
		return nil, reject(err)
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE branches SET name = ? WHERE repo_key = ? AND name = ?`, args[3], repo.Key(), args[2])
	if err != nil {
		return nil, fmt.Errorf("failed to rename branch: %w", err)
	}
	return []byte("branch renamed to " + args[3]), nil
}

// deleteBranch: repoAuthor, repoName, branchName
func deleteBranch(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	repo, err := editable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	if err := repo.DeleteBranch(args[2]); err != nil {
		return nil, reject(err)
	}
	_, err = t.tx.ExecContext(ctx, `DELETE FROM branches WHERE repo_key = ? AND name = ?`, repo.Key(), args[2])
	if err != nil {
		return nil, fmt.Errorf("failed to delete branch: %w", err)
	}
	return []byte("branch " + args[2] + " deleted"), nil
}

// queryBranches: repoAuthor, repoName
func queryBranches(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	repo, err := readable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	return respond(repo.BranchNames())
}

// queryBranch: repoAuthor, repoName, branchName
func queryBranch(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	repo, err := readable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	b, err := repo.Branch(args[2])
	if err != nil {
		return nil, reject(err)
	}
	return respond(b)
}

// ===================
// Commits
// ===================

// push: repoAuthor, repoName, branchName, commit JSON
func push(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 4); err != nil {
		return nil, err
	}
	var c schema.Commit
	if err := json.Unmarshal([]byte(args[3]), &c); err != nil {
		return nil, ledger.Reject(ledger.CodeInvalid, "could not unmarshal commit: %v", err)
	}
	return appendCommits(ctx, t, args, []schema.Commit{c})
}

// pushMultiple: repoAuthor, repoName, branchName, commit list JSON
func pushMultiple(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 4); err != nil {
		return nil, err
	}
	var commits []schema.Commit
	if err := json.Unmarshal([]byte(args[3]), &commits); err != nil {
		return nil, ledger.Reject(ledger.CodeInvalid, "push is invalid: %v", err)
	}
	return appendCommits(ctx, t, args, commits)
}

func appendCommits(ctx context.Context, t *txn, args []string, commits []schema.Commit) ([]byte, error) {
	repo, err := editable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	branch := args[2]
	if branch == "" {
		return nil, ledger.Reject(ledger.CodeInvalid, "branch name is required")
	}
	if err := repo.AddCommits(commits, branch); err != nil {
		return nil, reject(err)
	}

	key := repo.Key()
	if err := t.ensureBranch(ctx, key, branch); err != nil {
		return nil, err
	}
	for _, c := range commits {
		if err := t.insertCommit(ctx, key, branch, c); err != nil {
			return nil, err
		}
	}
	return []byte(fmt.Sprintf("%d commits added to %s", len(commits), branch)), nil
}

// pull: repoAuthor, repoName, branchName, commitHash
func pull(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 4); err != nil {
		return nil, err
	}
	repo, err := readable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	b, err := repo.Branch(args[2])
	if err != nil {
		return nil, reject(err)
	}
	commits, err := b.After(args[3])
	if err != nil {
		return nil, reject(err)
	}
	if commits == nil {
		commits = []schema.Commit{}
	}
	return respond(commits)
}

// checkoutLast: repoAuthor, repoName, branchName
func checkoutLast(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	repo, err := readable(ctx, t, args)
	if err != nil {
		return nil, err
	}
	b, err := repo.Branch(args[2])
	if err != nil {
		return nil, reject(err)
	}
	last, _ := b.Last()
	return []byte(last.Hash), nil
}

// ===================
// Access
// ===================

// updateRepoUserAccess: repoAuthor, repoName, userName, access level
func updateRepoUserAccess(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 4); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(args[3])
	if err != nil {
		return nil, ledger.Reject(ledger.CodeInvalid, "invalid access level %q", args[3])
	}
	repo, err := t.loadRepo(ctx, args[0], args[1])
	if err != nil {
		return nil, err
	}
	level := schema.Access(n)
	if err := repo.UpdateAccess(args[2], level, t.user, t.now); err != nil {
		return nil, reject(err)
	}
	last := repo.AccessLogs[len(repo.AccessLogs)-1]
	if err := t.insertAccessLog(ctx, repo.Key(), last); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s now has %s on %s", args[2], level, repo.Name)), nil
}

// queryRepoUserAccess: repoAuthor, repoName
func queryRepoUserAccess(ctx context.Context, t *txn, args []string) ([]byte, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	repo, err := t.loadRepo(ctx, args[0], args[1])
	if err != nil {
		return nil, err
	}
	return respond(repo.AccessLogs)
}
