package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sabaki-ai/factgate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fact API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := server.Build(cfg)
		if err != nil {
			return fmt.Errorf("build server: %w", err)
		}
		return srv.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
