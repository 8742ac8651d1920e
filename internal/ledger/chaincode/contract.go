// Package chaincode implements the ledger contract on a local SQLite
// database.
//
// The contract is the state machine that decides which repository, branch,
// commit and access transitions the ledger accepts. Each invocation runs in
// its own SQLite transaction: it either commits completely or leaves the
// state untouched, which gives callers the all-or-nothing semantics they
// expect from a consensus-backed ledger.
//
// Architecture:
//   - Database file: ledger.path from the configuration (ledger.db)
//   - WAL mode, one connection, one transaction per invocation
//   - Tables: users, repos, branches, commits, access_logs
//
// The caller identity is bound to a Session, never passed as an argument:
//
//	contract, err := chaincode.Open(".ledgit/ledger.db")
//	if err != nil {
//	    return err
//	}
//	defer contract.Close()
//
//	gw := ledger.NewGateway(contract.Session("alice"))
//	err = gw.AddNewRepo(ctx, repo)
package chaincode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/ledgit/internal/ledger"
)

// handler runs one chaincode function inside a transaction.
type handler func(ctx context.Context, t *txn, args []string) ([]byte, error)

// Contract is the ledger state machine over a SQLite database.
type Contract struct {
	conn     *sql.DB
	path     string
	now      func() time.Time
	log      zerolog.Logger
	handlers map[string]handler
}

// Option configures a Contract.
type Option func(*Contract)

// WithClock sets the transaction clock used for access log timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Contract) { c.now = now }
}

// WithLogger sets the logger for invocation traces.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Contract) { c.log = log }
}

// Open opens the ledger database at path, creating it and its schema if
// needed.
//
// The caller MUST call Close() when done.
func Open(path string, opts ...Option) (*Contract, error) {
	conn, err := openDB(path)
	if err != nil {
		return nil, err
	}
	c := &Contract{
		conn: conn,
		path: path,
		now:  time.Now,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handlers = c.routes()

	if err := c.InitSchema(context.Background()); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the database file path
func (c *Contract) Path() string {
	return c.path
}

// InitSchema creates the ledger tables if they don't exist. It is
// idempotent.
func (c *Contract) InitSchema(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (c *Contract) Close() error {
	if c.conn == nil {
		return nil
	}
	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		c.log.Warn().Err(err).Msg("failed to checkpoint WAL")
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ledger database: %w", err)
	}
	c.conn = nil
	return nil
}

// Execute runs fn on behalf of user in a single transaction. Rejections are
// returned as *ledger.TransactionError and roll the transaction back.
func (c *Contract) Execute(ctx context.Context, user, fn string, args []string) ([]byte, error) {
	h, ok := c.handlers[fn]
	if !ok {
		return nil, &ledger.TransactionError{Function: fn, Code: ledger.CodeInvalid, Message: "invalid smart contract function name"}
	}
	if user == "" && fn != ledger.FnRegisterNewUser && fn != ledger.FnQueryUser {
		return nil, &ledger.TransactionError{Function: fn, Code: ledger.CodeUnauthorized, Message: "no user bound to the session"}
	}

	start := time.Now()
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	out, err := h(ctx, &txn{tx: tx, user: user, now: c.now().UTC()}, args)
	if err != nil {
		var te *ledger.TransactionError
		if errors.As(err, &te) {
			te.Function = fn
			c.log.Info().Str("fn", fn).Str("user", user).Str("code", te.Code).Msg(te.Message)
		} else {
			c.log.Error().Err(err).Str("fn", fn).Str("user", user).Msg("invocation failed")
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.log.Debug().Str("fn", fn).Str("user", user).Dur("took", time.Since(start)).Msg("invoked")
	return out, nil
}

// PublicKey returns the key user registered. An unknown user is a
// not_found rejection.
func (c *Contract) PublicKey(ctx context.Context, user string) (string, error) {
	out, err := c.Execute(ctx, "", ledger.FnQueryUser, []string{user})
	if err != nil {
		return "", err
	}
	u, err := decodeUser(out)
	if err != nil {
		return "", err
	}
	return u.PublicKey, nil
}

// Session returns a ledger.Client acting as user. Closing the session does
// not close the contract.
func (c *Contract) Session(user string) *Session {
	return &Session{contract: c, user: user}
}

// OpenSession opens the contract at path and returns a session acting as
// user that owns it: closing the session closes the database.
func OpenSession(path, user string, opts ...Option) (*Session, error) {
	c, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{contract: c, user: user, owned: true}, nil
}

// Session is a ledger.Client bound to one user.
type Session struct {
	contract *Contract
	user     string
	owned    bool
}

var _ ledger.Client = (*Session)(nil)

// User returns the identity the session acts as
func (s *Session) User() string {
	return s.user
}

// Invoke implements ledger.Client.
func (s *Session) Invoke(ctx context.Context, fn string, args ...string) ([]byte, error) {
	return s.contract.Execute(ctx, s.user, fn, args)
}

// Close implements ledger.Client.
func (s *Session) Close() error {
	if !s.owned {
		return nil
	}
	return s.contract.Close()
}
