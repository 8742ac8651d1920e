package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/identity"
	"github.com/mschirtzinger/ledgit/internal/schema"
	"github.com/mschirtzinger/ledgit/internal/ui"
)

var keygenForce bool

var userCmd = &cobra.Command{
	Use:     "user",
	GroupID: "ledger",
	Short:   "Manage your ledger identity",
}

var userKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the private key you authenticate with",
	Long: `Create an Ed25519 private key at user.key_file and print its public key.
The remote gateway asks every connection to sign a challenge with it.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := identity.Save(cfg.User.KeyFile, key, keygenForce); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), cfg.User.KeyFile)
		fmt.Printf("   public key: %s\n", identity.PublicKey(key))
		return nil
	},
}

var userRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the configured user on the ledger",
	Long: `Register user.name and user.email from the configuration as a new ledger
user, with the public half of user.key_file. A name can only be registered
once.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := identity.Load(cfg.User.KeyFile)
		if err != nil {
			return usageError(err)
		}
		u := schema.User{Name: cfg.User.Name, Email: cfg.User.Email, PublicKey: identity.PublicKey(key)}
		if err := u.Validate(); err != nil {
			return usageError(err)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		gw, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		if err := gw.RegisterUser(ctx, u); err != nil {
			return err
		}
		fmt.Printf("%s Registered %s\n", ui.RenderPass("✓"), ui.RenderAccent(u.Name))
		return nil
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show the public record of a ledger user",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := cfg.User.Name
		if len(args) == 1 {
			name = args[0]
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		gw, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer gw.Close()

		u, err := gw.QueryUser(ctx, name)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderHeader(u.Name))
		fmt.Printf("  email:      %s\n", u.Email)
		fmt.Printf("  public key: %s\n", u.PublicKey)
		return nil
	},
}

var userRotateCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Replace your key on the ledger with a new one",
	Long: `Create a new private key, register its public half on the ledger and
replace user.key_file with it. The old key stops working.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := identity.Generate()
		if err != nil {
			return err
		}
		pending := cfg.User.KeyFile + ".new"
		if err := identity.Save(pending, key, true); err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		gw, err := openLedger(ctx)
		if err != nil {
			_ = os.Remove(pending)
			return err
		}
		defer gw.Close()

		if err := gw.ChangePublicKey(ctx, identity.PublicKey(key)); err != nil {
			_ = os.Remove(pending)
			return err
		}
		if err := os.Rename(pending, cfg.User.KeyFile); err != nil {
			return fmt.Errorf("the ledger has the new key but %s could not replace %s: %w", pending, cfg.User.KeyFile, err)
		}
		fmt.Printf("%s Key of %s replaced\n", ui.RenderPass("✓"), ui.RenderAccent(cfg.User.Name))
		fmt.Printf("   public key: %s\n", identity.PublicKey(key))
		return nil
	},
}

func init() {
	userKeygenCmd.Flags().BoolVar(&keygenForce, "force", false, "replace an existing key")
	userCmd.AddCommand(userKeygenCmd, userRegisterCmd, userShowCmd, userRotateCmd)
	rootCmd.AddCommand(userCmd)
}
