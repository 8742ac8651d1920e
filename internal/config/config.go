// Package config loads ledgit settings.
//
// Settings come from, in increasing priority:
//   - built-in defaults
//   - ledgit.toml in $LEDGIT_HOME, ~/.config/ledgit or the current
//     directory (or the file given with --config)
//   - LEDGIT_* environment variables, e.g. LEDGIT_LEDGER_ENDPOINT
//
// Keys are dotted: user.name, ledger.backend, content.kubo_api, ...
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file
const FileName = "ledgit.toml"

// EnvHome overrides the configuration directory
const EnvHome = "LEDGIT_HOME"

// Ledger backends.
const (
	LedgerLocal  = "local"
	LedgerRemote = "remote"
)

// Content backends.
const (
	ContentLocal = "local"
	ContentKubo  = "kubo"
)

// Config is the resolved configuration.
type Config struct {
	User    UserConfig    `mapstructure:"user"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Content ContentConfig `mapstructure:"content"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Gateway GatewayConfig `mapstructure:"gateway"`

	// File is the configuration file that was read, if any
	File string `mapstructure:"-"`
}

// UserConfig is the local identity. The name is also the ledger user.
type UserConfig struct {
	Name    string `mapstructure:"name"`
	Email   string `mapstructure:"email"`
	KeyFile string `mapstructure:"key_file"`
}

// LedgerConfig selects the ledger.
type LedgerConfig struct {
	Backend  string        `mapstructure:"backend"`
	Path     string        `mapstructure:"path"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ContentConfig selects the content store.
type ContentConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	KuboAPI string `mapstructure:"kubo_api"`
	Pin     bool   `mapstructure:"pin"`
}

// StoreConfig selects the local history store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// WatchConfig configures the working tree watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// GatewayConfig configures the websocket ledger gateway.
type GatewayConfig struct {
	Addr string `mapstructure:"addr"`
}

// Home returns the configuration directory: $LEDGIT_HOME, or
// ~/.config/ledgit.
func Home() string {
	if h := os.Getenv(EnvHome); h != "" {
		return h
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ledgit")
	}
	return ".ledgit"
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("user.name", os.Getenv("USER"))
	v.SetDefault("user.email", "")
	v.SetDefault("user.key_file", filepath.Join(home, "identity.key"))
	v.SetDefault("ledger.backend", LedgerLocal)
	v.SetDefault("ledger.path", filepath.Join(home, "ledger.db"))
	v.SetDefault("ledger.endpoint", "ws://localhost:7051/ws")
	v.SetDefault("ledger.timeout", 30*time.Second)
	v.SetDefault("content.backend", ContentLocal)
	v.SetDefault("content.path", filepath.Join(home, "objects"))
	v.SetDefault("content.kubo_api", "http://127.0.0.1:5001")
	v.SetDefault("content.pin", true)
	v.SetDefault("store.backend", "git")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("watch.debounce", 2*time.Second)
	v.SetDefault("gateway.addr", ":7051")
}

// Default returns the built-in configuration without reading any file or
// environment variable other than $LEDGIT_HOME and $USER.
func Default() *Config {
	v := viper.New()
	setDefaults(v, Home())
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Load resolves the configuration. An explicit path must exist; without
// one, a missing file is not an error.
func Load(path string) (*Config, error) {
	home := Home()
	v := viper.New()
	setDefaults(v, home)

	v.SetEnvPrefix("LEDGIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(home)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that select backends.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case LedgerLocal:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the local ledger")
		}
	case LedgerRemote:
		if c.Ledger.Endpoint == "" {
			return fmt.Errorf("ledger.endpoint is required for the remote ledger")
		}
	default:
		return fmt.Errorf("ledger.backend must be %q or %q, got %q", LedgerLocal, LedgerRemote, c.Ledger.Backend)
	}
	switch c.Content.Backend {
	case ContentLocal, ContentKubo:
	default:
		return fmt.Errorf("content.backend must be %q or %q, got %q", ContentLocal, ContentKubo, c.Content.Backend)
	}
	if c.Ledger.Timeout < 0 || c.Watch.Debounce < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// settings returns the configuration as nested maps with durations
// written as strings, in the shape of the configuration file.
func (c *Config) settings() map[string]map[string]any {
	return map[string]map[string]any{
		"user": {
			"name":     c.User.Name,
			"email":    c.User.Email,
			"key_file": c.User.KeyFile,
		},
		"ledger": {
			"backend":  c.Ledger.Backend,
			"path":     c.Ledger.Path,
			"endpoint": c.Ledger.Endpoint,
			"timeout":  c.Ledger.Timeout.String(),
		},
		"content": {
			"backend":  c.Content.Backend,
			"path":     c.Content.Path,
			"kubo_api": c.Content.KuboAPI,
			"pin":      c.Content.Pin,
		},
		"store": {
			"backend": c.Store.Backend,
		},
		"log": {
			"level":       c.Log.Level,
			"file":        c.Log.File,
			"max_size_mb": c.Log.MaxSizeMB,
		},
		"watch": {
			"debounce": c.Watch.Debounce.String(),
		},
		"gateway": {
			"addr": c.Gateway.Addr,
		},
	}
}

// Write stores c as TOML at path. An existing file is only replaced when
// overwrite is set.
func (c *Config) Write(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c.settings()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}

// YAML renders c for display.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.settings())
}
