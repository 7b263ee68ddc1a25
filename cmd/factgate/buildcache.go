package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sabaki-ai/factgate/internal/ledger"
)

var (
	buildCacheInput string
	buildCacheOut   string
	buildCacheLimit int
)

var buildCacheCmd = &cobra.Command{
	Use:   "build-cache",
	Short: "Build the fact corpus snapshot from the posting ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := buildCacheOut
		if out == "" {
			out = cfg.Cache.Path
		}

		result, err := ledger.Build(buildCacheInput, out, buildCacheLimit)
		if err != nil {
			return err
		}

		summary, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(summary))
		return nil
	},
}

func init() {
	buildCacheCmd.Flags().StringVar(&buildCacheInput, "input", "attestations_posted.jsonl", "posting ledger (newline-delimited JSON)")
	buildCacheCmd.Flags().StringVar(&buildCacheOut, "out", "", "output snapshot path (defaults to the configured cache path)")
	buildCacheCmd.Flags().IntVar(&buildCacheLimit, "limit", 0, "stop after N posted rows (0 = no limit)")
	rootCmd.AddCommand(buildCacheCmd)
}
