package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/ledgit/internal/schema"
)

type call struct {
	fn   string
	args []string
}

// fakeClient records invocations and answers from a table keyed by
// function name.
type fakeClient struct {
	calls   []call
	replies map[string][]byte
	errs    map[string]error
	closed  bool
}

func (f *fakeClient) Invoke(ctx context.Context, fn string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{fn: fn, args: args})
	if err := f.errs[fn]; err != nil {
		return nil, err
	}
	return f.replies[fn], nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestGatewayArgumentOrder(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{replies: map[string][]byte{FnCheckoutLast: []byte("abc")}}
	gw := NewGateway(fc)
	ref := RepoRef{Author: "alice", Name: "notes"}

	require.NoError(t, gw.RenameBranch(ctx, ref, "old", "new"))
	require.NoError(t, gw.UpdateAccess(ctx, ref, "bob", schema.ReadWriteAccess))
	last, err := gw.CheckoutLast(ctx, ref, "main")
	require.NoError(t, err)
	assert.Equal(t, "abc", last)

	require.Len(t, fc.calls, 3)
	assert.Equal(t, call{FnRenameBranch, []string{"alice", "notes", "old", "new"}}, fc.calls[0])
	assert.Equal(t, call{FnUpdateRepoUserAccess, []string{"alice", "notes", "bob", "2"}}, fc.calls[1])
	assert.Equal(t, call{FnCheckoutLast, []string{"alice", "notes", "main"}}, fc.calls[2])

	require.NoError(t, gw.Close())
	assert.True(t, fc.closed)
}

func TestGatewayPullSortsOldestFirst(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reply := fmt.Sprintf(`[
		{"hash":"C","author":"a","timestamp":%q},
		{"hash":"B","author":"a","timestamp":%q}
	]`, t0.Add(2*time.Second).Format(time.RFC3339), t0.Add(time.Second).Format(time.RFC3339))
	gw := NewGateway(&fakeClient{replies: map[string][]byte{FnPull: []byte(reply)}})

	commits, err := gw.Pull(context.Background(), RepoRef{Author: "a", Name: "r"}, "main", "A")
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "B", commits[0].Hash)
	assert.Equal(t, "C", commits[1].Hash)
}

func TestGatewayNamesRejectedFunction(t *testing.T) {
	fc := &fakeClient{errs: map[string]error{FnPush: Reject(CodeInvalid, "stale commit")}}
	gw := NewGateway(fc)

	err := gw.Push(context.Background(), RepoRef{Author: "a", Name: "r"}, "main", schema.Commit{Hash: "x"})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "ledger rejected push: stale commit", err.Error())

	wrapped := fmt.Errorf("push failed: %w", err)
	assert.True(t, IsRejected(wrapped))
}

func TestGatewayDecodeFailure(t *testing.T) {
	gw := NewGateway(&fakeClient{replies: map[string][]byte{FnClone: []byte("not json")}})

	_, err := gw.Clone(context.Background(), RepoRef{Author: "a", Name: "r"})
	require.Error(t, err)
	assert.False(t, IsRejected(err))
}

func TestIsRejected(t *testing.T) {
	assert.False(t, IsRejected(nil))
	assert.False(t, IsRejected(errors.New("network down")))
	assert.True(t, IsNotFound(Reject(CodeNotFound, "missing")))
}

func TestRepoRef(t *testing.T) {
	ref := RepoRef{Author: "alice", Name: "notes"}
	assert.Equal(t, "alice/notes", ref.String())
	assert.Equal(t, schema.RepoKey("alice", "notes"), ref.Key())
}

func TestParseRepoRef(t *testing.T) {
	ref, err := ParseRepoRef("alice/notes")
	require.NoError(t, err)
	assert.Equal(t, RepoRef{Author: "alice", Name: "notes"}, ref)

	for _, bad := range []string{"", "alice", "alice/", "/notes", "alice/notes/x"} {
		_, err := ParseRepoRef(bad)
		assert.Error(t, err, bad)
	}
}
