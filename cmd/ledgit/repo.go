package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/config"
	"github.com/mschirtzinger/ledgit/internal/ledger"
	"github.com/mschirtzinger/ledgit/internal/ui"
	"github.com/mschirtzinger/ledgit/internal/vcs"
)

var initCmd = &cobra.Command{
	Use:     "init <name> [dir]",
	GroupID: "repo",
	Short:   "Create a repository and record it on the ledger",
	Long: `Create a repository with a single empty root commit on main and record it
on the ledger, owned by you. The directory defaults to ./<name> and must
not exist or be empty.`,
	Args: usageArgs(cobra.RangeArgs(1, 2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		dir := name
		if len(args) == 2 {
			dir = args[1]
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		r, err := client.Init(ctx, dir, name)
		if err != nil {
			return err
		}
		defer r.Close()
		if err := config.WriteLink(r.Store().Root(), config.Link{Author: r.Ref().Author, Name: r.Ref().Name}); err != nil {
			return err
		}

		fmt.Printf("%s Created %s in %s\n", ui.RenderPass("✓"), ui.RenderAccent(r.Ref().String()), r.Store().Root())
		return nil
	},
}

var cloneCmd = &cobra.Command{
	Use:     "clone <author/name> [dir]",
	GroupID: "repo",
	Short:   "Replay a ledger repository into a new directory",
	Long: `Replay every commit of a ledger repository into a new local repository.
Every branch is recreated and main is checked out. The replayed commits
have the same hashes as the originals.`,
	Args: usageArgs(cobra.RangeArgs(1, 2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := ledger.ParseRepoRef(args[0])
		if err != nil {
			return usageError(err)
		}
		dir := ref.Name
		if len(args) == 2 {
			dir = args[1]
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		r, err := client.Clone(ctx, ref, dir)
		if err != nil {
			return err
		}
		defer r.Close()
		if err := config.WriteLink(r.Store().Root(), config.Link{Author: ref.Author, Name: ref.Name}); err != nil {
			return err
		}

		branches, _ := r.Store().Branches()
		fmt.Printf("%s Cloned %s into %s (%d branches)\n", ui.RenderPass("✓"), ui.RenderAccent(ref.String()), r.Store().Root(), len(branches))
		return nil
	},
}

var deleteLocal bool

var deleteCmd = &cobra.Command{
	Use:     "delete [author/name]",
	GroupID: "repo",
	Short:   "Delete a repository from the ledger",
	Long: `Delete a repository from the ledger. Only the owner may do this.

Without an argument the repository linked to the current working copy is
deleted. With --local the working copy is removed as well.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref ledger.RepoRef
		var dir string
		if len(args) == 1 {
			var err error
			if ref, err = ledger.ParseRepoRef(args[0]); err != nil {
				return usageError(err)
			}
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			found, err := vcs.Detect(wd)
			if err != nil {
				return err
			}
			link, err := config.ReadLink(found.RepoRoot)
			if err != nil {
				return err
			}
			ref = ledger.RepoRef{Author: link.Author, Name: link.Name}
			dir = found.RepoRoot
		}
		if !deleteLocal {
			dir = ""
		} else if dir == "" {
			return usagef("--local needs to run inside the working copy")
		}

		if !assumeYes {
			what := "This removes the repository and its history from the ledger."
			if dir != "" {
				what += " The working copy " + filepath.Base(dir) + " is removed too."
			}
			if err := ui.Confirm("Delete "+ref.String()+"?", what); err != nil {
				return err
			}
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Delete(ctx, ref, dir); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), ui.RenderAccent(ref.String()))
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:     "rename <new-name>",
	GroupID: "repo",
	Short:   "Rename the linked repository on the ledger",
	Long: `Rename the repository linked to the current working copy. Only the owner
may do this. The working copy is relinked to the new name.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		newName := args[0]
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		old := s.Ref()
		if err := s.client.Ledger().RenameRepo(ctx, old, newName); err != nil {
			return err
		}
		if err := config.WriteLink(s.Store().Root(), config.Link{Author: old.Author, Name: newName}); err != nil {
			return err
		}
		fmt.Printf("%s Renamed %s to %s\n", ui.RenderPass("✓"), old, ui.RenderAccent(newName))
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteLocal, "local", false, "also remove the working copy")
	rootCmd.AddCommand(initCmd, cloneCmd, deleteCmd, renameCmd)
}
