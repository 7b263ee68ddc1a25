package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sabaki-ai/factgate/internal/evm"
	"github.com/sabaki-ai/factgate/internal/facts"
	"github.com/sabaki-ai/factgate/internal/onchain"
)

var (
	readTicker string
	readPeriod string
	readMetric string
	readRPC    string
	readAddr   string
)

var readAttestationCmd = &cobra.Command{
	Use:   "read-attestation",
	Short: "Read one attestation from the oracle contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		rpc := readRPC
		if rpc == "" {
			rpc = cfg.Chain.RPCURL
		}
		addr := readAddr
		if addr == "" {
			addr = cfg.Chain.OracleAddress
		}

		oracle, err := onchain.New(rpc, addr)
		if err != nil {
			return err
		}

		att, err := oracle.ReadAttestation(cmd.Context(), readTicker,
			evm.HashLabel(readPeriod), evm.HashLabel(readMetric))
		if err != nil {
			return fmt.Errorf("read attestation: %w", err)
		}
		if att == nil {
			fmt.Println("null")
			return nil
		}

		out, err := json.MarshalIndent(att, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	readAttestationCmd.Flags().StringVar(&readTicker, "ticker", "", "ticker symbol")
	readAttestationCmd.Flags().StringVar(&readPeriod, "period", "", "period id, e.g. CY2025Q3")
	readAttestationCmd.Flags().StringVar(&readMetric, "metric", facts.MetricNonGaapEPS, "metric label")
	readAttestationCmd.Flags().StringVar(&readRPC, "rpc", "", "chain RPC URL (defaults to config)")
	readAttestationCmd.Flags().StringVar(&readAddr, "addr", "", "oracle contract address (defaults to config)")
	_ = readAttestationCmd.MarkFlagRequired("ticker")
	_ = readAttestationCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(readAttestationCmd)
}
