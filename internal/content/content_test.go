package content

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	gocid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewObjectStore(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	hash, err := store.Put(ctx, []byte("hello world\n"))
	require.NoError(t, err)

	again, err := store.Put(ctx, []byte("hello world\n"))
	require.NoError(t, err)
	assert.Equal(t, hash, again, "identical bytes must give identical hashes")

	other, err := store.Put(ctx, []byte("goodbye\n"))
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)

	c, err := gocid.Decode(hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(gocid.Raw), c.Type())

	data, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))
	assert.True(t, store.Has(hash))
}

func TestObjectStore_EmptyBlob(t *testing.T) {
	ctx := context.Background()
	store, err := NewObjectStore(t.TempDir())
	require.NoError(t, err)

	hash, err := store.Put(ctx, nil)
	require.NoError(t, err)

	data, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestObjectStore_Missing(t *testing.T) {
	ctx := context.Background()
	store, err := NewObjectStore(t.TempDir())
	require.NoError(t, err)

	c, err := ComputeCID([]byte("never stored"))
	require.NoError(t, err)

	_, err = store.Get(ctx, c.String())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "not-a-cid")
	assert.Error(t, err)
	assert.False(t, store.Has("not-a-cid"))
}

func TestObjectStore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store, err := NewObjectStore(t.TempDir())
	require.NoError(t, err)

	hash, err := store.Put(ctx, []byte("original"))
	require.NoError(t, err)

	c, _ := gocid.Decode(hash)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), CIDToFilename(c)), []byte("tampered"), 0644))

	_, err = store.Get(ctx, hash)
	assert.ErrorIs(t, err, ErrCorrupt)
}

// fakeKubo serves the subset of the Kubo RPC API the client uses.
func fakeKubo(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	blobs := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("cid-version"))
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		c, _ := ComputeCID(data)
		mu.Lock()
		blobs[c.String()] = data
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"Name": "data", "Hash": c.String()})
	})
	mux.HandleFunc("/api/v0/cat", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		data, ok := blobs[r.URL.Query().Get("arg")]
		mu.Unlock()
		if !ok {
			http.Error(w, "block not found", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/api/v0/id", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ID":"12D3Koo"}`))
	})
	mux.HandleFunc("/api/v0/pin/add", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Pins":[]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestKuboClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := fakeKubo(t)
	client := NewKuboClient(srv.URL+"/api/v0/", WithPin(true))
	defer client.Close()

	assert.True(t, client.IsAvailable(ctx))

	hash, err := client.Put(ctx, []byte("package main\n"))
	require.NoError(t, err)

	local, err := ComputeCID([]byte("package main\n"))
	require.NoError(t, err)
	assert.Equal(t, local.String(), hash, "kubo and object store must agree on raw CIDs")

	data, err := client.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	require.NoError(t, client.Pin(ctx, hash))

	_, err = client.Get(ctx, local.String()+"x")
	assert.Error(t, err)
}

func TestKuboClient_Missing(t *testing.T) {
	srv := fakeKubo(t)
	client := NewKuboClient(srv.URL + "/api/v0")

	c, _ := ComputeCID([]byte("absent"))
	_, err := client.Get(context.Background(), c.String())
	assert.ErrorIs(t, err, ErrNotFound)
}
