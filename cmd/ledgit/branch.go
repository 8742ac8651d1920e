package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/ui"
)

var branchCmd = &cobra.Command{
	Use:     "branch",
	GroupID: "branch",
	Short:   "Create, rename, delete and list branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		local, err := s.Store().Branches()
		if err != nil {
			return err
		}
		remote, err := s.client.Ledger().QueryBranches(ctx, s.Ref())
		if err != nil {
			return err
		}
		current, _ := s.Store().CurrentBranch()

		onLedger := make(map[string]bool, len(remote))
		for _, b := range remote {
			onLedger[b] = true
		}
		for _, b := range local {
			marker := "  "
			if b == current {
				marker = ui.RenderAccent("* ")
			}
			note := ""
			if !onLedger[b] {
				note = ui.RenderWarn(" (local only)")
			}
			delete(onLedger, b)
			fmt.Printf("%s%s%s\n", marker, b, note)
		}
		for _, b := range remote {
			if onLedger[b] {
				fmt.Printf("  %s%s\n", b, ui.RenderMuted(" (ledger only)"))
			}
		}
		return nil
	},
}

var branchAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a branch at the current commit and record it on the ledger",
	Long: `Create a branch at the current commit, check it out and record it on the
ledger. If the ledger rejects the branch, it is removed locally again.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.CreateBranch(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Created branch %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]))
		return nil
	},
}

var branchFallback string

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a branch from the ledger and locally",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !assumeYes {
			if err := ui.Confirm("Delete branch "+name+"?", "The branch is removed from the ledger and from this working copy."); err != nil {
				return err
			}
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.DeleteBranch(ctx, name, branchFallback); err != nil {
			return err
		}
		fmt.Printf("%s Deleted branch %s\n", ui.RenderPass("✓"), ui.RenderAccent(name))
		return nil
	},
}

var branchRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a branch on the ledger and locally",
	Args:  usageArgs(cobra.ExactArgs(2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.RenameBranch(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s Renamed branch %s to %s\n", ui.RenderPass("✓"), args[0], ui.RenderAccent(args[1]))
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:     "checkout <branch>",
	GroupID: "branch",
	Short:   "Switch branches, pulling the branch first if it only exists on the ledger",
	Args:    usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Checkout(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s On branch %s\n", ui.RenderPass("✓"), ui.RenderAccent(args[0]))
		return nil
	},
}

func init() {
	branchDeleteCmd.Flags().StringVar(&branchFallback, "fallback", "main", "branch to check out when deleting the current one")
	branchCmd.AddCommand(branchAddCmd, branchDeleteCmd, branchRenameCmd)
	rootCmd.AddCommand(branchCmd, checkoutCmd)
}
