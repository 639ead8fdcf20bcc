package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newgrp/chronos/config"
	"github.com/newgrp/chronos/logging"
)

var rootCmd = &cobra.Command{
	Use:   "chronos",
	Short: "Trusted time that survives restarts and suspensions",
	Long: `chronos resolves the current time from an ordered list of sources, records it alongside a
monotonic counter, and reports how much time passed while the process was closed.

Configuration is read from CHRONOS_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, nowCmd, resetCmd)
}

// Loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, cleanup, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
