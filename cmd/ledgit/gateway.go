package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ledgit/internal/ledger/chaincode"
	"github.com/mschirtzinger/ledgit/internal/ledger/wsgateway"
	"github.com/mschirtzinger/ledgit/internal/ui"
)

var gatewayAddr string

var gatewayCmd = &cobra.Command{
	Use:     "gateway",
	GroupID: "ledger",
	Short:   "Serve the local ledger to remote clients",
	Long: `Serve the ledger database at ledger.path over a websocket so that clients
configured with ledger.backend = "remote" can reach it. Clients
authenticate with their registered public key.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Gateway.Addr
		if gatewayAddr != "" {
			addr = gatewayAddr
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
		contract, err := chaincode.Open(cfg.Ledger.Path,
			chaincode.WithLogger(logger.With().Str("component", "chaincode").Logger()))
		if err != nil {
			return err
		}
		defer contract.Close()

		srv := wsgateway.NewServer(contract, &wsgateway.Config{
			Addr:    addr,
			Timeout: cfg.Ledger.Timeout,
			Logger:  logger.With().Str("component", "gateway").Logger(),
		})
		if err := srv.Start(); err != nil {
			return err
		}
		fmt.Printf("%s Serving %s on %s\n", ui.RenderPass("✓"), cfg.Ledger.Path, ui.RenderAccent(srv.GetAddr()))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return srv.Stop()
	},
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayAddr, "addr", "", "listen address (default gateway.addr)")
	rootCmd.AddCommand(gatewayCmd)
}
