package chaincode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/schema"
)

// openDB opens the SQLite ledger state at path.
//
// The pool holds a single connection: every invocation runs in its own
// transaction on it, so invocations are serialized.
func openDB(path string) (*sql.DB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}
	return conn, nil
}

// schemaSQL mirrors the ledger documents: one row per repository, branch,
// commit, access log entry and user.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	name TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	public_key TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repos (
	repo_key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	author TEXT NOT NULL,
	directory_cid TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
	repo_key TEXT NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (repo_key, name),
	FOREIGN KEY (repo_key) REFERENCES repos(repo_key) ON DELETE CASCADE ON UPDATE CASCADE
);

CREATE TABLE IF NOT EXISTS commits (
	repo_key TEXT NOT NULL,
	branch TEXT NOT NULL,
	hash TEXT NOT NULL,
	author TEXT NOT NULL,
	author_email TEXT NOT NULL,
	message TEXT NOT NULL,
	parent_hashes TEXT NOT NULL,  -- JSON array
	timestamp TEXT NOT NULL,      -- RFC 3339, offset preserved
	storage_hashes TEXT NOT NULL, -- JSON object
	PRIMARY KEY (repo_key, branch, hash),
	FOREIGN KEY (repo_key, branch) REFERENCES branches(repo_key, name) ON DELETE CASCADE ON UPDATE CASCADE
);

CREATE TABLE IF NOT EXISTS access_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_key TEXT NOT NULL,
	authorizer TEXT NOT NULL,
	authorized TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	user_access INTEGER NOT NULL,
	FOREIGN KEY (repo_key) REFERENCES repos(repo_key) ON DELETE CASCADE ON UPDATE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(repo_key, branch);
CREATE INDEX IF NOT EXISTS idx_access_logs_repo ON access_logs(repo_key);
`

// txn is the state visible to one invocation.
type txn struct {
	tx   *sql.Tx
	user string
	now  time.Time
}

func (t *txn) repoExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM repos WHERE repo_key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up repository: %w", err)
	}
	return n > 0, nil
}

// loadRepo assembles the full repository record. Stored commits are trusted
// and are not validated again.
func (t *txn) loadRepo(ctx context.Context, author, name string) (*schema.Repository, error) {
	key := schema.RepoKey(author, name)

	repo := &schema.Repository{
		CommitHashes: make(map[string]bool),
		Branches:     make(map[string]schema.Branch),
	}
	err := t.tx.QueryRowContext(ctx,
		`SELECT name, author, directory_cid FROM repos WHERE repo_key = ?`, key,
	).Scan(&repo.Name, &repo.Author, &repo.DirectoryCID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Reject(ledger.CodeNotFound, "repository %s/%s does not exist", author, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read repository: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `SELECT name FROM branches WHERE repo_key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read branches: %w", err)
	}
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		repo.Branches[b] = schema.NewBranch(b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating branches: %w", err)
	}

	if err := t.loadCommits(ctx, key, repo); err != nil {
		return nil, err
	}
	if err := t.loadAccessLogs(ctx, key, repo); err != nil {
		return nil, err
	}
	repo.Normalize()
	return repo, nil
}

func (t *txn) loadCommits(ctx context.Context, key string, repo *schema.Repository) error {
	rows, err := t.tx.QueryContext(ctx, `
	SELECT branch, hash, author, author_email, message, parent_hashes, timestamp, storage_hashes
	FROM commits
	WHERE repo_key = ?
	`, key)
	if err != nil {
		return fmt.Errorf("failed to read commits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var branch, parents, ts, storage string
		var c schema.Commit
		if err := rows.Scan(&branch, &c.Hash, &c.Author, &c.AuthorEmail, &c.Message, &parents, &ts, &storage); err != nil {
			return fmt.Errorf("failed to scan commit: %w", err)
		}
		if err := json.Unmarshal([]byte(parents), &c.ParentHashes); err != nil {
			return fmt.Errorf("failed to unmarshal parents of %s: %w", c.Hash, err)
		}
		if err := json.Unmarshal([]byte(storage), &c.StorageHashes); err != nil {
			return fmt.Errorf("failed to unmarshal storage hashes of %s: %w", c.Hash, err)
		}
		if c.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("failed to parse timestamp of %s: %w", c.Hash, err)
		}

		b, ok := repo.Branches[branch]
		if !ok {
			b = schema.NewBranch(branch)
		}
		b.Commits[c.Hash] = c
		repo.Branches[branch] = b
		repo.CommitHashes[c.Hash] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating commits: %w", err)
	}
	return nil
}

func (t *txn) loadAccessLogs(ctx context.Context, key string, repo *schema.Repository) error {
	rows, err := t.tx.QueryContext(ctx, `
	SELECT authorizer, authorized, timestamp, user_access
	FROM access_logs
	WHERE repo_key = ?
	ORDER BY id ASC
	`, key)
	if err != nil {
		return fmt.Errorf("failed to read access logs: %w", err)
	}
	defer rows.Close()

	repo.AccessLogs = []schema.AccessLog{}
	for rows.Next() {
		var l schema.AccessLog
		var ts string
		var level int
		if err := rows.Scan(&l.Authorizer, &l.Authorized, &ts, &level); err != nil {
			return fmt.Errorf("failed to scan access log: %w", err)
		}
		if l.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("failed to parse access log timestamp: %w", err)
		}
		l.Access = schema.Access(level)
		repo.AccessLogs = append(repo.AccessLogs, l)
	}
	return rows.Err()
}

func (t *txn) insertRepo(ctx context.Context, repo *schema.Repository) error {
	key := repo.Key()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO repos (repo_key, name, author, directory_cid) VALUES (?, ?, ?, ?)`,
		key, repo.Name, repo.Author, repo.DirectoryCID)
	if err != nil {
		return fmt.Errorf("failed to insert repository: %w", err)
	}
	for _, l := range repo.AccessLogs {
		if err := t.insertAccessLog(ctx, key, l); err != nil {
			return err
		}
	}
	for _, name := range repo.BranchNames() {
		if err := t.insertBranch(ctx, key, repo.Branches[name]); err != nil {
			return err
		}
	}
	return nil
}

// insertBranch stores the branch row and every commit it carries.
func (t *txn) insertBranch(ctx context.Context, key string, b schema.Branch) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO branches (repo_key, name) VALUES (?, ?)`, key, b.Name)
	if err != nil {
		return fmt.Errorf("failed to insert branch %s: %w", b.Name, err)
	}
	for _, c := range b.Sorted() {
		if err := t.insertCommit(ctx, key, b.Name, c); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) ensureBranch(ctx context.Context, key, branch string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO branches (repo_key, name) VALUES (?, ?) ON CONFLICT(repo_key, name) DO NOTHING`,
		key, branch)
	if err != nil {
		return fmt.Errorf("failed to insert branch %s: %w", branch, err)
	}
	return nil
}

func (t *txn) insertCommit(ctx context.Context, key, branch string, c schema.Commit) error {
	parents := c.ParentHashes
	if parents == nil {
		parents = []string{}
	}
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return fmt.Errorf("failed to marshal parents: %w", err)
	}
	storage := c.StorageHashes
	if storage == nil {
		storage = map[string]string{}
	}
	storageJSON, err := json.Marshal(storage)
	if err != nil {
		return fmt.Errorf("failed to marshal storage hashes: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
	INSERT INTO commits (
		repo_key, branch, hash, author, author_email, message,
		parent_hashes, timestamp, storage_hashes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		key, branch, c.Hash, c.Author, c.AuthorEmail, c.Message,
		string(parentsJSON), c.Timestamp.Format(time.RFC3339Nano), string(storageJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert commit %s: %w", c.Hash, err)
	}
	return nil
}

func (t *txn) insertAccessLog(ctx context.Context, key string, l schema.AccessLog) error {
	_, err := t.tx.ExecContext(ctx, `
	INSERT INTO access_logs (repo_key, authorizer, authorized, timestamp, user_access)
	VALUES (?, ?, ?, ?, ?)
	`, key, l.Authorizer, l.Authorized, l.Timestamp.Format(time.RFC3339Nano), int(l.Access))
	if err != nil {
		return fmt.Errorf("failed to insert access log: %w", err)
	}
	return nil
}

func (t *txn) loadUser(ctx context.Context, name string) (schema.User, error) {
	var u schema.User
	err := t.tx.QueryRowContext(ctx,
		`SELECT name, email, public_key FROM users WHERE name = ?`, name,
	).Scan(&u.Name, &u.Email, &u.PublicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ledger.Reject(ledger.CodeNotFound, "user %s does not exist", name)
	}
	if err != nil {
		return u, fmt.Errorf("failed to read user: %w", err)
	}
	return u, nil
}
