package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/reconcile"
	"github.com/mschirtzinger/ledgit/internal/ui"
)

func TestExitCodeOf(t *testing.T) {
	rejected := &ledger.TransactionError{Function: ledger.FnPush, Code: ledger.CodeUnauthorized, Message: "no write access"}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), exitFailure},
		{"usage", usagef("bad flag"), exitUsage},
		{"out of sync", fmt.Errorf("push main: %w", reconcile.ErrOutOfSync), exitOutOfSync},
		{"no common ancestor", reconcile.ErrNoCommonAncestor, exitOutOfSync},
		{"rejected", fmt.Errorf("commit: %w", rejected), exitRejected},
		{"aborted", ui.ErrAborted, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeOf(tt.err))
		})
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2024-05-01T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2024-05-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("36h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-36*time.Hour), got)

	got, err = parseSince("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Day())

	_, err = parseSince("qwzx", now)
	assert.Error(t, err)
}
