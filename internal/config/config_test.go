package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, LedgerLocal, cfg.Ledger.Backend)
	assert.Equal(t, filepath.Join(home, "ledger.db"), cfg.Ledger.Path)
	assert.Equal(t, filepath.Join(home, "objects"), cfg.Content.Path)
	assert.Equal(t, filepath.Join(home, "identity.key"), cfg.User.KeyFile)
	assert.Equal(t, 30*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Empty(t, cfg.File)
}

func TestLoadFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv("LEDGIT_LEDGER_ENDPOINT", "ws://ledger.example:7051/ws")

	path := filepath.Join(home, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
[user]
name = "alice"
email = "alice@example.com"

[ledger]
backend = "remote"
timeout = "5s"

[watch]
debounce = "500ms"
`), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "alice", cfg.User.Name)
	assert.Equal(t, LedgerRemote, cfg.Ledger.Backend)
	assert.Equal(t, "ws://ledger.example:7051/ws", cfg.Ledger.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv("LEDGIT_CONTENT_BACKEND", "s3")
	_, err := Load("")
	assert.ErrorContains(t, err, "content.backend")
}

func TestWriteRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)

	cfg := Default()
	cfg.User.Name = "bob"
	cfg.Watch.Debounce = 3 * time.Second
	path := filepath.Join(home, FileName)
	require.NoError(t, cfg.Write(path, false))
	assert.Error(t, cfg.Write(path, false), "existing file is kept")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", loaded.User.Name)
	assert.Equal(t, 3*time.Second, loaded.Watch.Debounce)

	out, err := loaded.YAML()
	require.NoError(t, err)
	var shown map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &shown))
	assert.Equal(t, "bob", shown["user"]["name"])
	assert.Equal(t, "3s", shown["watch"]["debounce"])
}

func TestLink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	_, err := ReadLink(root)
	assert.ErrorIs(t, err, ErrNoLink)

	require.NoError(t, WriteLink(root, Link{Author: "alice", Name: "notes"}))
	l, err := ReadLink(root)
	require.NoError(t, err)
	assert.Equal(t, Link{Author: "alice", Name: "notes"}, l)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", LinkFile), []byte(`name = "notes"`), 0o644))
	_, err = ReadLink(root)
	assert.ErrorIs(t, err, ErrNoLink)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (stand-in for testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
