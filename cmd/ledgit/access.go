package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/schema"
	"github.com/mschirtzinger/ledgit/internal/ui"
)

var accessCmd = &cobra.Command{
	Use:     "access",
	GroupID: "access",
	Short:   "Show or change who may read and write the repository",
}

var accessGrantCmd = &cobra.Command{
	Use:   "grant <user> <level>",
	Short: "Set a user's access level (read, write, owner or none)",
	Long: `Set a user's access level on the linked repository. Only owners may
change access, and the repository author always keeps OwnerAccess.

Levels: read, write (ReadWriteAccess), owner, none.`,
	Args: usageArgs(cobra.ExactArgs(2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := schema.ParseAccess(args[1])
		if err != nil {
			return usageError(err)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.GrantAccess(ctx, args[0], level); err != nil {
			return err
		}
		fmt.Printf("%s %s now has %s on %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]), level, s.Ref())
		return nil
	},
}

var accessShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the access log of the repository",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		logs, err := s.QueryAccess(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderHeader("Access log of " + s.Ref().String()))
		for _, l := range logs {
			fmt.Printf("%s  %-16s %-16s by %s\n",
				ui.RenderMuted(l.Timestamp.Local().Format("2006-01-02 15:04")),
				l.Authorized, l.Access, l.Authorizer)
		}
		return nil
	},
}

func init() {
	accessCmd.AddCommand(accessGrantCmd, accessShowCmd)
	rootCmd.AddCommand(accessCmd)
}
