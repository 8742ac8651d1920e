// Command ledgit keeps a local git history in step with a ledger.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/config"
	"github.com/mschirtzinger/ledgit/internal/logging"
	"github.com/mschirtzinger/ledgit/internal/ui"
	"github.com/mschirtzinger/ledgit/internal/vcs"
	_ "github.com/mschirtzinger/ledgit/internal/vcs/git"
)

var (
	configPath string
	logLevel   string
	assumeYes  bool

	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "ledgit",
	Short: "Synchronize a local git history with a ledger",
	Long: `ledgit records every commit of a local repository on a ledger and keeps
file contents in a content-addressed store.

The ledger is the source of truth. Commit and push send local commits to
it; pull and clone replay its commits locally with identical hashes. When
the ledger rejects a write, the local branch is reset to the last commit
the ledger accepted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Configure(os.Stdout)
		loaded, err := config.Load(configPath)
		if err != nil {
			return usageError(err)
		}
		cfg = loaded
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		logCfg := logging.DefaultConfig(logging.ProfileRuntime)
		if lvl, ok := logging.ParseLevel(cfg.Log.Level); ok && os.Getenv(logging.EnvLogLevel) == "" {
			logCfg.Level = lvl
		}
		logCfg.File = cfg.Log.File
		logCfg.MaxSizeMB = cfg.Log.MaxSizeMB
		logger, logCloser = logging.New("ledgit", logCfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $LEDGIT_HOME/ledgit.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	rootCmd.AddGroup(
		&cobra.Group{ID: "repo", Title: "Repositories:"},
		&cobra.Group{ID: "branch", Title: "Branches:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "access", Title: "Access control:"},
		&cobra.Group{ID: "ledger", Title: "Ledger:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		if vcs.IsFatal(err) {
			fmt.Fprintln(os.Stderr, ui.RenderMuted("The working copy cannot be used as is. Clone the repository again into a new directory."))
		}
		os.Exit(exitCodeOf(err))
	}
}
