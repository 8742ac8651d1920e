package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/ledgit/internal/schema"
	"github.com/mschirtzinger/ledgit/internal/vcs"
)

// CreateBranch creates name at the current tip, checks it out and records
// it on the ledger. If the ledger refuses, the local branch is removed and
// the previous branch checked out again.
func (r *Reconciler) CreateBranch(ctx context.Context, name string) error {
	prev, err := r.store.CurrentBranch()
	if err != nil {
		return err
	}
	if err := r.store.CreateBranch(name); err != nil {
		return err
	}

	b, err := r.mapper.ToLedgerBranch(ctx, r.store, name)
	if err == nil {
		err = r.gw.AddNewBranch(ctx, r.ref, b)
	}
	if err != nil {
		if delErr := r.store.DeleteBranch(name, prev); delErr != nil {
			return errors.Join(err, fmt.Errorf("failed to remove local branch %s: %w", name, delErr))
		}
		return err
	}
	r.log.Info().Str("branch", name).Int("commits", len(b.Commits)).Msg("branch created")
	return nil
}

// DeleteBranch removes name from the ledger, then from the store when it
// exists locally, checking out fallback (main when empty) first.
func (r *Reconciler) DeleteBranch(ctx context.Context, name, fallback string) error {
	if name == vcs.MainBranch {
		return fmt.Errorf("%w: cannot delete %s", vcs.ErrProtectedRef, name)
	}
	if fallback == "" {
		fallback = vcs.MainBranch
	}
	if err := r.gw.DeleteBranch(ctx, r.ref, name); err != nil {
		return err
	}
	if r.store.RefExists(name) {
		if err := r.store.DeleteBranch(name, fallback); err != nil {
			return fmt.Errorf("branch deleted from the ledger but not locally: %w", err)
		}
	}
	r.log.Info().Str("branch", name).Msg("branch deleted")
	return nil
}

// RenameBranch renames oldName in the store, when it exists locally, and
// then on the ledger. If the ledger refuses, the local rename is undone.
func (r *Reconciler) RenameBranch(ctx context.Context, oldName, newName string) error {
	if oldName == vcs.MainBranch || newName == vcs.MainBranch {
		return fmt.Errorf("%w: cannot rename %s", vcs.ErrProtectedRef, vcs.MainBranch)
	}
	local := r.store.RefExists(oldName)
	if local {
		if err := r.store.RenameBranch(oldName, newName); err != nil {
			return err
		}
	}
	if err := r.gw.RenameBranch(ctx, r.ref, oldName, newName); err != nil {
		if !local {
			return err
		}
		if undoErr := r.store.RenameBranch(newName, oldName); undoErr != nil {
			return errors.Join(err, fmt.Errorf("failed to restore local branch %s: %w", oldName, undoErr))
		}
		return err
	}
	r.log.Info().Str("branch", oldName).Str("to", newName).Msg("branch renamed")
	return nil
}

// Checkout switches to name, pulling it from the ledger first when it only
// exists there.
func (r *Reconciler) Checkout(ctx context.Context, name string) error {
	if !r.store.RefExists(name) {
		if _, err := r.Pull(ctx, name); err != nil {
			return err
		}
	}
	return r.store.Checkout(name)
}

// GrantAccess sets the access level of user on the repository. Only owners
// may change access.
func (r *Reconciler) GrantAccess(ctx context.Context, user string, level schema.Access) error {
	if err := r.gw.UpdateAccess(ctx, r.ref, user, level); err != nil {
		return err
	}
	r.log.Info().Str("user", user).Stringer("level", level).Msg("access updated")
	return nil
}

// QueryAccess returns the access log of the repository, oldest first.
func (r *Reconciler) QueryAccess(ctx context.Context) ([]schema.AccessLog, error) {
	return r.gw.QueryAccess(ctx, r.ref)
}
