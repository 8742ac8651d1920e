// Package logging builds the zerolog loggers used across ledgit.
//
// Console output goes to stderr so command output on stdout stays clean.
// When a file is configured, JSON lines are also written to it through a
// rotating lumberjack writer.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel   = "LEDGIT_LOG_LEVEL"
	EnvLogNoColor = "LEDGIT_LOG_NOCOLOR"
)

// Profile selects defaults for a kind of process.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config describes where and how much to log.
type Config struct {
	Level   zerolog.Level
	NoColor bool

	// File, when set, receives JSON lines in addition to the console
	File string

	// MaxSizeMB is the size at which File is rotated
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept
	MaxBackups int

	// Console receives human readable output (default: stderr)
	Console io.Writer
}

// DefaultConfig returns the defaults of a profile with environment
// overrides applied.
func DefaultConfig(profile Profile) Config {
	cfg := Config{
		Level:      zerolog.InfoLevel,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
	if profile == ProfileTest {
		cfg.Level = zerolog.Disabled
	}
	applyEnvOverrides(&cfg)
	return cfg
}

// New builds a logger for cfg. The returned closer flushes and closes the
// log file, if any.
func New(app string, cfg Config) (zerolog.Logger, io.Closer) {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        console,
		NoColor:    cfg.NoColor,
		TimeFormat: time.Kitchen,
	}}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, rotating)
		closer = rotating
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(cfg.Level).
		With().Timestamp().Str("app", app).Logger()
	return logger, closer
}

// ParseLevel maps a level name to a zerolog level. Unknown names report
// false.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogNoColor))); err == nil {
		cfg.NoColor = v
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
