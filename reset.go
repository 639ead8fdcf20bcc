package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newgrp/chronos/chronos"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the recorded anchor so the next run is a first run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		store, err := openStore(cfg.Store, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := chronos.ClearPersistentData(cmd.Context(), store); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "persistent data cleared")
		return nil
	},
}
