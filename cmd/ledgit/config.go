package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/config"
	"github.com/mschirtzinger/ledgit/internal/ui"
)

var (
	configForce bool
	configUser  string
	configEmail string
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Create or show the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	Long: `Write ledgit.toml into the configuration directory ($LEDGIT_HOME, or
~/.config/ledgit) with the built-in defaults and the given identity.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := config.Default()
		if configUser != "" {
			c.User.Name = configUser
		}
		if configEmail != "" {
			c.User.Email = configEmail
		}
		if err := c.Validate(); err != nil {
			return usageError(err)
		}

		path := filepath.Join(config.Home(), config.FileName)
		if err := c.Write(path, configForce); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		if cfg.File != "" {
			fmt.Println(ui.RenderMuted("# " + cfg.File))
		} else {
			fmt.Println(ui.RenderMuted("# no configuration file, defaults and environment only"))
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "replace an existing file")
	configInitCmd.Flags().StringVar(&configUser, "user", "", "ledger user name")
	configInitCmd.Flags().StringVar(&configEmail, "email", "", "email recorded on commits")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
