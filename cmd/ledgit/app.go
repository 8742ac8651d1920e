package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/config"
	"github.com/mschirtzinger/ledgit/internal/content"
	"github.com/mschirtzinger/ledgit/internal/identity"
	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/ledger/chaincode"
	"github.com/mschirtzinger/ledgit/internal/ledger/wsgateway"
	"github.com/mschirtzinger/ledgit/internal/reconcile"
	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// commandContext bounds a command by the ledger timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return withLedgerTimeout(cmd.Context())
}

func withLedgerTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg.Ledger.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Ledger.Timeout)
}

func requireUser() error {
	if cfg.User.Name == "" {
		return usagef("user.name is not configured: run 'ledgit config init' or set LEDGIT_USER_NAME")
	}
	return nil
}

// openLedger connects to the configured ledger as the configured user.
func openLedger(ctx context.Context) (*ledger.Gateway, error) {
	if err := requireUser(); err != nil {
		return nil, err
	}
	switch cfg.Ledger.Backend {
	case config.LedgerRemote:
		key, err := identity.Load(cfg.User.KeyFile)
		if err != nil {
			if errors.Is(err, identity.ErrNoKey) {
				return nil, usagef("%v: run 'ledgit user keygen'", err)
			}
			return nil, err
		}
		c, err := wsgateway.Dial(ctx, cfg.Ledger.Endpoint, wsgateway.Credentials{User: cfg.User.Name, Key: key})
		if err != nil {
			return nil, err
		}
		return ledger.NewGateway(c), nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
		s, err := chaincode.OpenSession(cfg.Ledger.Path, cfg.User.Name,
			chaincode.WithLogger(logger.With().Str("component", "chaincode").Logger()))
		if err != nil {
			return nil, err
		}
		return ledger.NewGateway(s), nil
	}
}

// openContent returns the configured content store.
func openContent() (content.Store, error) {
	switch cfg.Content.Backend {
	case config.ContentKubo:
		return content.NewKuboClient(cfg.Content.KuboAPI, content.WithPin(cfg.Content.Pin)), nil
	default:
		return content.NewObjectStore(cfg.Content.Path)
	}
}

// newClient builds the reconcile client for one command. The caller
// closes it.
func newClient(ctx context.Context) (*reconcile.Client, error) {
	gw, err := openLedger(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := openContent()
	if err != nil {
		_ = gw.Close()
		return nil, err
	}
	log := logger.With().Str("component", "reconcile").Logger()
	return reconcile.NewClient(reconcile.Deps{
		Ledger:    gw,
		Content:   blobs,
		StoreType: vcs.Type(cfg.Store.Backend),
		Identity:  vcs.Identity{Name: cfg.User.Name, Email: cfg.User.Email},
		Logger:    &log,
		Now:       time.Now,
	}), nil
}

// session is a reconciler for the working copy containing the current
// directory, with the client that owns its connections.
type session struct {
	client *reconcile.Client
	*reconcile.Reconciler
}

func (s *session) Close() error {
	err := s.Reconciler.Close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// openSession opens the linked working copy containing the current
// directory.
func openSession(ctx context.Context) (*session, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	found, err := vcs.Detect(wd)
	if err != nil {
		return nil, err
	}
	link, err := config.ReadLink(found.RepoRoot)
	if err != nil {
		return nil, err
	}

	client, err := newClient(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Open(found.RepoRoot, ledger.RepoRef{Author: link.Author, Name: link.Name})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &session{client: client, Reconciler: r}, nil
}

// currentBranch returns the branch flag value, or the checked out branch.
func currentBranch(s *session, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	return s.Store().CurrentBranch()
}
