package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/reconcile"
	"github.com/mschirtzinger/ledgit/internal/ui"
	"github.com/mschirtzinger/ledgit/internal/watch"
)

var (
	syncBranch       string
	commitMessage    string
	commitUntracked  bool
	logSince         string
	logLimit         int
	watchNoUntracked bool
)

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Replay new ledger commits onto the local branch",
	Long: `Replay the ledger commits that follow the newest commit both sides share.

Pull refuses to run when the local branch also has commits the ledger does
not know: push them first, or drop them with 'ledgit revert'.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		branch, err := currentBranch(s, syncBranch)
		if err != nil {
			return err
		}

		res, err := s.Pull(ctx, branch)
		if err != nil {
			return err
		}
		if res.UpToDate {
			fmt.Printf("%s %s is up to date\n", ui.RenderPass("✓"), ui.RenderAccent(branch))
			return nil
		}
		fmt.Printf("%s Pulled %d commit(s) onto %s\n", ui.RenderPass("✓"), len(res.Applied), ui.RenderAccent(branch))
		for _, h := range res.Applied {
			fmt.Printf("   %s\n", ui.ShortHash(h))
		}
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:     "commit",
	GroupID: "sync",
	Short:   "Commit the working tree and record the commit on the ledger",
	Long: `Commit every change in the working tree and push the commit to the ledger.

The local branch must be at the ledger tip. If the ledger rejects the
commit, the branch is reset to where it was and the changes are discarded.
If the ledger cannot be reached, the commit stays local; run 'ledgit push'
later.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if commitMessage == "" {
			return usagef("a commit message is required (-m)")
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		branch, err := currentBranch(s, syncBranch)
		if err != nil {
			return err
		}

		res, err := s.Commit(ctx, branch, commitMessage, commitUntracked)
		if err != nil {
			if res != nil && res.Hash != "" {
				fmt.Printf("%s Committed %s locally; the ledger was not updated\n", ui.RenderWarn("⚠"), ui.ShortHash(res.Hash))
			}
			return err
		}
		if !res.Committed {
			fmt.Println("Nothing to commit")
			return nil
		}
		fmt.Printf("%s Committed %s on %s (%d file(s))\n", ui.RenderPass("✓"), ui.RenderAccent(ui.ShortHash(res.Hash)), branch, res.Files)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Send local commits newer than the ledger tip",
	Long: `Send every local commit newer than the ledger tip as one transaction.
If the ledger rejects them, the branch is reset to the ledger tip.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		branch, err := currentBranch(s, syncBranch)
		if err != nil {
			return err
		}

		res, err := s.Push(ctx, branch)
		if err != nil {
			return err
		}
		if len(res.Pushed) == 0 {
			fmt.Printf("%s Nothing to push on %s\n", ui.RenderPass("✓"), ui.RenderAccent(branch))
			return nil
		}
		fmt.Printf("%s Pushed %d commit(s) from %s\n", ui.RenderPass("✓"), len(res.Pushed), ui.RenderAccent(branch))
		return nil
	},
}

var revertCmd = &cobra.Command{
	Use:     "revert [hash]",
	GroupID: "sync",
	Short:   "Reset the branch to a commit, discarding everything after it",
	Long: `Hard reset the branch to a commit. Without a hash the branch is reset to
the ledger tip. Later local commits and working tree changes are lost.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash := ""
		if len(args) == 1 {
			hash = args[0]
		}
		if !assumeYes {
			if err := ui.Confirm("Reset the branch?", "Local commits after the target and uncommitted changes are discarded."); err != nil {
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
		branch, err := currentBranch(s, syncBranch)
		if err != nil {
			return err
		}

		if err := s.Revert(ctx, branch, hash); err != nil {
			return err
		}
		tip, _ := s.Store().BranchTip(branch)
		fmt.Printf("%s %s is at %s\n", ui.RenderPass("✓"), ui.RenderAccent(branch), ui.ShortHash(tip))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Compare the local branch with the ledger",
	Args:    usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		branch, err := currentBranch(s, syncBranch)
		if err != nil {
			return err
		}

		st, err := s.Status(ctx, branch)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n\n", ui.RenderHeader("Repository"), ui.RenderAccent(s.Ref().String()))
		fmt.Printf("   Branch:     %s\n", st.Branch)
		fmt.Printf("   Local tip:  %s\n", ui.ShortHash(st.LocalTip))
		fmt.Printf("   Ledger tip: %s\n", ui.ShortHash(st.RemoteTip))
		fmt.Printf("   State:      %s\n", renderState(st))
		fmt.Println()
		return nil
	},
}

func renderState(st *reconcile.StatusResult) string {
	switch st.State {
	case reconcile.Synced:
		return ui.RenderPass(st.State.String())
	case reconcile.LocalAhead:
		return ui.RenderWarn(fmt.Sprintf("%s by %d, run 'ledgit push'", st.State, st.Ahead))
	case reconcile.RemoteAhead:
		return ui.RenderWarn(fmt.Sprintf("%s by %d, run 'ledgit pull'", st.State, st.Behind))
	case reconcile.LocalOnly:
		return ui.RenderWarn(st.State.String())
	default:
		return ui.RenderFail(fmt.Sprintf("%s (%d local, %d ledger), revert or push first", st.State, st.Ahead, st.Behind))
	}
}

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "sync",
	Short:   "Show the history of the branch",
	Long: `Show the commits of the branch, newest first.

--since accepts a timestamp (2024-06-01T10:00:00Z), a duration (48h) or a
natural language date ("last monday", "3 days ago").`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseSince(logSince, time.Now())
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
		branch, err := currentBranch(s, syncBranch)
		if err != nil {
			return err
		}

		history, err := s.History(branch, since)
		if err != nil {
			return err
		}
		if logLimit > 0 && len(history) > logLimit {
			history = history[:logLimit]
		}
		for _, c := range history {
			subject, _, _ := strings.Cut(c.Message, "\n")
			fmt.Printf("%s %s %s %s\n",
				ui.RenderAccent(ui.ShortHash(c.Hash)),
				ui.RenderMuted(c.Timestamp.Format("2006-01-02 15:04")),
				ui.RenderMuted(c.Author),
				subject)
		}
		return nil
	},
}

// parseSince resolves a --since value relative to now. An empty value
// means no bound.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(raw, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse --since %q: %w", raw, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot parse --since %q", raw)
	}
	return r.Time, nil
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Commit and push automatically when the working tree changes",
	Long: `Watch the working tree and, once it has been quiet for the debounce
interval (watch.debounce), commit every change and record it on the ledger.
Stops on Ctrl-C.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		branch, err := currentBranch(s, syncBranch)
		if err != nil {
			return err
		}

		sync := func(ctx context.Context, changed []string) error {
			opCtx, cancel := withLedgerTimeout(ctx)
			defer cancel()
			msg := fmt.Sprintf("Update %d file(s)", len(changed))
			if len(changed) == 1 {
				msg = "Update " + changed[0]
			}
			res, err := s.Commit(opCtx, branch, msg, !watchNoUntracked)
			if err != nil {
				return err
			}
			if res.Committed {
				fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(ui.ShortHash(res.Hash)), msg)
			}
			return nil
		}

		wcfg := watch.DefaultConfig()
		wcfg.Debounce = cfg.Watch.Debounce
		wcfg.Logger = logger.With().Str("component", "watch").Logger()
		w, err := watch.New(s.Store().Root(), sync, wcfg)
		if err != nil {
			return err
		}
		fmt.Printf("Watching %s on %s (Ctrl-C to stop)\n", s.Store().Root(), ui.RenderAccent(branch))
		return w.Run(ctx)
	},
}

func init() {
	for _, c := range []*cobra.Command{pullCmd, commitCmd, pushCmd, revertCmd, statusCmd, logCmd, watchCmd} {
		c.Flags().StringVarP(&syncBranch, "branch", "b", "", "branch (default: the checked out branch)")
	}
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	commitCmd.Flags().BoolVarP(&commitUntracked, "all", "a", false, "also commit untracked files")
	logCmd.Flags().StringVar(&logSince, "since", "", "only commits after this time")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "maximum number of commits")
	watchCmd.Flags().BoolVar(&watchNoUntracked, "tracked-only", false, "ignore untracked files")

	rootCmd.AddCommand(pullCmd, commitCmd, pushCmd, revertCmd, statusCmd, logCmd, watchCmd)
}
