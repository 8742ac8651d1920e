package wsgateway

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/ledgit/internal/identity"
	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/ledger/chaincode"
	"github.com/mschirtzinger/ledgit/internal/schema"
)

func startGateway(t *testing.T) (*Server, string) {
	t.Helper()
	contract, err := chaincode.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	srv := NewServer(contract, &Config{Timeout: 5 * time.Second})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
		_ = contract.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	key, err := identity.Generate()
	require.NoError(t, err)
	return key
}

func dialErr(url, user string, key ed25519.PrivateKey) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Dial(ctx, url, Credentials{User: user, Key: key})
}

func dial(t *testing.T, url, user string, key ed25519.PrivateKey) *ledger.Gateway {
	t.Helper()
	c, err := dialErr(url, user, key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return ledger.NewGateway(c)
}

// register dials as a new user, registers it and returns the connection.
func register(t *testing.T, url, user string, key ed25519.PrivateKey) *ledger.Gateway {
	t.Helper()
	gw := dial(t, url, user, key)
	require.NoError(t, gw.RegisterUser(context.Background(), schema.User{
		Name:      user,
		Email:     user + "@example.com",
		PublicKey: identity.PublicKey(key),
	}))
	return gw
}

func requireUnauthorized(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var te *ledger.TransactionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ledger.CodeUnauthorized, te.Code)
}

func TestGatewayRoundTrip(t *testing.T) {
	_, url := startGateway(t)
	ctx := context.Background()
	key := newKey(t)

	alice := register(t, url, "alice", key)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := schema.NewRepository("notes", "alice", "notes", created)
	require.NoError(t, repo.AddCommit(schema.Commit{
		Hash:      "A",
		Author:    "alice",
		Message:   "Initial commit",
		Timestamp: created,
	}, schema.MainBranch))
	require.NoError(t, alice.AddNewRepo(ctx, repo))

	ref := ledger.RepoRef{Author: "alice", Name: "notes"}
	require.NoError(t, alice.Push(ctx, ref, schema.MainBranch, schema.Commit{
		Hash:          "B",
		Author:        "alice",
		Message:       "add file",
		ParentHashes:  []string{"A"},
		Timestamp:     created.Add(time.Minute),
		StorageHashes: map[string]string{"a.txt": "cid-a"},
	}))

	// A second connection is authenticated against the registered key.
	again, err := dialErr(url, "alice", key)
	require.NoError(t, err)
	defer again.Close()
	assert.True(t, again.Registered())
	assert.Equal(t, "alice", again.User())

	last, err := ledger.NewGateway(again).CheckoutLast(ctx, ref, schema.MainBranch)
	require.NoError(t, err)
	assert.Equal(t, "B", last)

	cloned, err := alice.Clone(ctx, ref)
	require.NoError(t, err)
	assert.True(t, cloned.HasCommit("B"))
}

func TestGatewayRejectsWrongKey(t *testing.T) {
	_, url := startGateway(t)
	ctx := context.Background()

	alice := register(t, url, "alice", newKey(t))
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := schema.NewRepository("notes", "alice", "notes", created)
	require.NoError(t, repo.AddCommit(schema.Commit{Hash: "A", Author: "alice", Message: "Initial commit", Timestamp: created}, schema.MainBranch))
	require.NoError(t, alice.AddNewRepo(ctx, repo))

	mallory := register(t, url, "mallory", newKey(t))
	u, err := mallory.QueryUser(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, u.PublicKey, "public keys are readable by anyone")

	// Knowing alice's public key does not let mallory act as alice.
	_, err = dialErr(url, "alice", newKey(t))
	requireUnauthorized(t, err)

	ref := ledger.RepoRef{Author: "alice", Name: "notes"}
	requireUnauthorized(t, mallory.DeleteRepo(ctx, ref))
	requireUnauthorized(t, mallory.UpdateAccess(ctx, ref, "mallory", schema.OwnerAccess))

	_, err = alice.QueryRepo(ctx, ref)
	assert.NoError(t, err, "alice's repository is untouched")
}

func TestGatewayUnregisteredUser(t *testing.T) {
	_, url := startGateway(t)
	ctx := context.Background()
	key := newKey(t)

	c, err := dialErr(url, "bob", key)
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Registered())
	bob := ledger.NewGateway(c)

	_, err = bob.QueryBranches(ctx, ledger.RepoRef{Author: "alice", Name: "notes"})
	requireUnauthorized(t, err)
	requireUnauthorized(t, bob.RegisterUser(ctx, schema.User{Name: "carol", PublicKey: identity.PublicKey(key)}))
	requireUnauthorized(t, bob.RegisterUser(ctx, schema.User{Name: "bob", PublicKey: identity.PublicKey(newKey(t))}))

	require.NoError(t, bob.RegisterUser(ctx, schema.User{Name: "bob", PublicKey: identity.PublicKey(key)}))
	u, err := bob.QueryUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, identity.PublicKey(key), u.PublicKey)
}

func TestGatewayPassesRejections(t *testing.T) {
	_, url := startGateway(t)
	ctx := context.Background()

	alice := register(t, url, "alice", newKey(t))

	_, err := alice.Clone(ctx, ledger.RepoRef{Author: "alice", Name: "missing"})
	assert.True(t, ledger.IsNotFound(err), "got %v", err)
}

func TestHealth(t *testing.T) {
	srv, url := startGateway(t)
	_ = dial(t, url, "alice", newKey(t))

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["clients"])
}
