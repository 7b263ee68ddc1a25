package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sabaki-ai/factgate/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "factgate",
	Short: "Payment-gated financial fact delivery",
	Long:  "Sells individually verifiable financial facts over HTTP, settling one x402 micropayment per request and reconciling every fact against the on-chain attestation oracle.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
