package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pawpilot/chat-api/internal/config"
)

const version = "0.3.0"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pawpilot",
	Short: "Pet-care chat workflow service",
	Long:  "Runs the staged chat workflow: input processing, retrieval routing, prompt assembly, Claude inference, validation, logging, and fine-tuning checks.",
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
