package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/reconcile"
	"github.com/mschirtzinger/ledgit/internal/ui"
)

// Exit codes.
const (
	exitFailure   = 1
	exitUsage     = 2
	exitOutOfSync = 3
	exitRejected  = 4
)

// exitError is an error that carries an explicit process exit code.
type exitError struct {
	code  int
	cause error
}

func (e *exitError) Error() string { return e.cause.Error() }

func (e *exitError) Unwrap() error { return e.cause }

func usageError(err error) error {
	return &exitError{code: exitUsage, cause: err}
}

func usagef(format string, args ...any) error {
	return usageError(fmt.Errorf(format, args...))
}

// exitCodeOf maps an error to the process exit code, defaulting to 1.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, reconcile.ErrOutOfSync), errors.Is(err, reconcile.ErrNoCommonAncestor):
		return exitOutOfSync
	case ledger.IsRejected(err):
		return exitRejected
	case errors.Is(err, ui.ErrAborted):
		return exitUsage
	default:
		return exitFailure
	}
}

// usageArgs wraps a positional argument validator so that violations exit
// with the usage code.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}
