package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var nowTimeout time.Duration

var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Initialize once and print the trusted time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), nowTimeout)
		defer cancel()

		a, store, err := newAuthority(ctx, cfg, nil, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		defer a.Dispose()

		if err := a.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "now: %s\n", a.Now().Format(time.RFC3339Nano))
		fmt.Fprintf(out, "elapsed while closed: %s\n", a.ElapsedWhileClosed())
		return nil
	},
}

func init() {
	nowCmd.Flags().DurationVar(&nowTimeout, "timeout", 30*time.Second, "give up if no source answers in time")
}
