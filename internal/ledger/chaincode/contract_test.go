package chaincode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/schema"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("", 2*60*60))

func openTestContract(t *testing.T) *Contract {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "ledger.db"), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func commit(hash string, at time.Duration, parents ...string) schema.Commit {
	return schema.Commit{
		Hash:          hash,
		Author:        "alice",
		AuthorEmail:   "alice@example.com",
		Message:       "commit " + hash,
		ParentHashes:  parents,
		Timestamp:     t0.Add(at),
		StorageHashes: map[string]string{hash + ".txt": "cid-" + hash},
	}
}

// seedRepo records a repository with main = [A, B] as alice.
func seedRepo(t *testing.T, c *Contract) (*ledger.Gateway, ledger.RepoRef) {
	t.Helper()
	gw := ledger.NewGateway(c.Session("alice"))
	repo := schema.NewRepository("notes", "alice", "notes", t0)
	require.NoError(t, repo.AddCommit(commit("A", 0), schema.MainBranch))
	require.NoError(t, repo.AddCommit(commit("B", time.Second, "A"), schema.MainBranch))
	require.NoError(t, gw.AddNewRepo(context.Background(), repo))
	return gw, ledger.RepoRef{Author: "alice", Name: "notes"}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var te *ledger.TransactionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, code, te.Code, te.Message)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.InitSchema(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, path, c.Path())
}

func TestAddNewRepoAndClone(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw, ref := seedRepo(t, c)

	repo, err := gw.Clone(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "notes", repo.Name)
	assert.True(t, repo.HasCommit("A"))
	assert.True(t, repo.HasCommit("B"))
	assert.True(t, repo.IsOwner("alice"))
	require.Len(t, repo.AccessLogs, 1)

	main, err := repo.Branch(schema.MainBranch)
	require.NoError(t, err)
	b := main.Commits["B"]
	assert.Equal(t, []string{"A"}, b.ParentHashes)
	assert.Equal(t, "cid-B", b.StorageHashes["B.txt"])
	assert.True(t, b.Timestamp.Equal(t0.Add(time.Second)))
	_, offset := b.Timestamp.Zone()
	assert.Equal(t, 2*60*60, offset, "timestamp offset must survive storage")

	header, err := gw.QueryRepo(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "notes", header.DirectoryCID)

	err = gw.AddNewRepo(ctx, schema.NewRepository("notes", "alice", "notes", t0))
	requireCode(t, err, ledger.CodeConflict)

	err = gw.AddNewRepo(ctx, schema.NewRepository("other", "bob", "other", t0))
	requireCode(t, err, ledger.CodeUnauthorized)
}

func TestPushAndPull(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw, ref := seedRepo(t, c)

	require.NoError(t, gw.Push(ctx, ref, schema.MainBranch, commit("C", 2*time.Second, "B")))
	require.NoError(t, gw.PushMultiple(ctx, ref, schema.MainBranch, []schema.Commit{
		commit("D", 3*time.Second, "C"),
		commit("E", 4*time.Second, "D"),
	}))

	last, err := gw.CheckoutLast(ctx, ref, schema.MainBranch)
	require.NoError(t, err)
	assert.Equal(t, "E", last)

	after, err := gw.Pull(ctx, ref, schema.MainBranch, "B")
	require.NoError(t, err)
	hashes := make([]string, 0, len(after))
	for _, c := range after {
		hashes = append(hashes, c.Hash)
	}
	assert.Equal(t, []string{"C", "D", "E"}, hashes)

	all, err := gw.Pull(ctx, ref, schema.MainBranch, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := gw.Pull(ctx, ref, schema.MainBranch, "E")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = gw.Pull(ctx, ref, schema.MainBranch, "missing")
	requireCode(t, err, ledger.CodeNotFound)
}

func TestPushMultipleIsAtomic(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw, ref := seedRepo(t, c)

	err := gw.PushMultiple(ctx, ref, schema.MainBranch, []schema.Commit{
		commit("C", 2*time.Second, "B"),
		commit("X", 3*time.Second, "unknown"),
	})
	requireCode(t, err, ledger.CodeInvalid)

	last, err := gw.CheckoutLast(ctx, ref, schema.MainBranch)
	require.NoError(t, err)
	assert.Equal(t, "B", last, "rejected batch must leave the branch unchanged")
}

func TestPushRejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw, ref := seedRepo(t, c)

	err := gw.Push(ctx, ref, schema.MainBranch, commit("C", 500*time.Microsecond, "B"))
	requireCode(t, err, ledger.CodeInvalid)
}

func TestBranches(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw, ref := seedRepo(t, c)

	main, err := gw.QueryBranch(ctx, ref, schema.MainBranch)
	require.NoError(t, err)
	feature := schema.Branch{Name: "feature", Commits: main.Commits}
	require.NoError(t, gw.AddNewBranch(ctx, ref, feature))
	requireCode(t, gw.AddNewBranch(ctx, ref, feature), ledger.CodeConflict)

	require.NoError(t, gw.Push(ctx, ref, "feature", commit("F", 5*time.Second, "B")))

	names, err := gw.QueryBranches(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "main"}, names)

	require.NoError(t, gw.RenameBranch(ctx, ref, "feature", "topic"))
	topic, err := gw.QueryBranch(ctx, ref, "topic")
	require.NoError(t, err)
	assert.Len(t, topic.Commits, 3)

	requireCode(t, gw.RenameBranch(ctx, ref, schema.MainBranch, "x"), ledger.CodeInvalid)
	requireCode(t, gw.DeleteBranch(ctx, ref, schema.MainBranch), ledger.CodeInvalid)
	require.NoError(t, gw.DeleteBranch(ctx, ref, "topic"))

	_, err = gw.QueryBranch(ctx, ref, "topic")
	requireCode(t, err, ledger.CodeNotFound)
}

func TestAccessControl(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw, ref := seedRepo(t, c)
	bob := ledger.NewGateway(c.Session("bob"))

	_, err := bob.Clone(ctx, ref)
	requireCode(t, err, ledger.CodeUnauthorized)

	require.NoError(t, gw.UpdateAccess(ctx, ref, "bob", schema.ReadAccess))
	_, err = bob.Clone(ctx, ref)
	require.NoError(t, err)
	requireCode(t, bob.Push(ctx, ref, schema.MainBranch, commit("C", 2*time.Second, "B")), ledger.CodeUnauthorized)

	requireCode(t, gw.UpdateAccess(ctx, ref, "bob", schema.ReadAccess), ledger.CodeInvalid)
	requireCode(t, gw.UpdateAccess(ctx, ref, "alice", schema.ReadAccess), ledger.CodeInvalid)
	requireCode(t, bob.UpdateAccess(ctx, ref, "carol", schema.ReadAccess), ledger.CodeUnauthorized)

	require.NoError(t, gw.UpdateAccess(ctx, ref, "bob", schema.ReadWriteAccess))
	require.NoError(t, bob.Push(ctx, ref, schema.MainBranch, commit("C", 2*time.Second, "B")))

	logs, err := gw.QueryAccess(ctx, ref)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "bob", logs[2].Authorized)
	assert.Equal(t, schema.ReadWriteAccess, logs[2].Access)
	assert.True(t, logs[2].Timestamp.Equal(t0))

	requireCode(t, bob.DeleteRepo(ctx, ref), ledger.CodeUnauthorized)
}

func TestRenameAndDeleteRepo(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw, ref := seedRepo(t, c)

	require.NoError(t, gw.RenameRepo(ctx, ref, "journal"))
	_, err := gw.Clone(ctx, ref)
	requireCode(t, err, ledger.CodeNotFound)

	renamed := ledger.RepoRef{Author: "alice", Name: "journal"}
	repo, err := gw.Clone(ctx, renamed)
	require.NoError(t, err)
	assert.True(t, repo.HasCommit("B"))
	assert.Len(t, repo.AccessLogs, 1)

	require.NoError(t, gw.DeleteRepo(ctx, renamed))
	_, err = gw.QueryAccess(ctx, renamed)
	requireCode(t, err, ledger.CodeNotFound)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	c := openTestContract(t)
	gw := ledger.NewGateway(c.Session("alice"))

	require.NoError(t, gw.RegisterUser(ctx, schema.User{Name: "alice", Email: "a@example.com", PublicKey: "key-1"}))
	requireCode(t, gw.RegisterUser(ctx, schema.User{Name: "alice", PublicKey: "x"}), ledger.CodeConflict)
	requireCode(t, gw.RegisterUser(ctx, schema.User{Name: "bob", PublicKey: "x"}), ledger.CodeUnauthorized)

	u, err := gw.QueryUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "key-1", u.PublicKey)

	key, err := c.PublicKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
	_, err = c.PublicKey(ctx, "nobody")
	requireCode(t, err, ledger.CodeNotFound)

	require.NoError(t, gw.ChangePublicKey(ctx, "key-2"))
	key, err = c.PublicKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "key-2", key)
}

func TestExecuteRejectsUnknownFunction(t *testing.T) {
	c := openTestContract(t)

	_, err := c.Execute(context.Background(), "alice", "logIn", nil)
	requireCode(t, err, ledger.CodeInvalid)
	assert.True(t, ledger.IsRejected(err))

	_, err = c.Execute(context.Background(), "", ledger.FnClone, []string{"a", "b"})
	requireCode(t, err, ledger.CodeUnauthorized)
}
