package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sabaki-ai/factgate/internal/facts"
)

var listFactsCache string

var listFactsCmd = &cobra.Command{
	Use:   "list-facts",
	Short: "List the facts in the corpus snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := listFactsCache
		if path == "" {
			path = cfg.Cache.Path
		}

		cache, err := facts.Load(path)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(cache.List(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	listFactsCmd.Flags().StringVar(&listFactsCache, "cache", "", "corpus snapshot path (defaults to the configured cache path)")
	rootCmd.AddCommand(listFactsCmd)
}
