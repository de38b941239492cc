// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/ctmirror/internal/sources"
	"github.com/pdiddy/ctmirror/pkg/types"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the download ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <source> <id>",
	Short: "Print one ledger entry as YAML",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, err := sources.ID(args[0])
		if err != nil {
			return err
		}
		store, err := openLedger(loadConfig())
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := store.Lookup(runContext(cmd), sourceID, args[1])
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("%s %s is not in the ledger", args[0], args[1])
		}
		return writeYAML(cmd.OutOrStdout(), e)
	},
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats <source>",
	Short: "Count a source's ledger entries by status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, err := sources.ID(args[0])
		if err != nil {
			return err
		}
		store, err := openLedger(loadConfig())
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.CountByStatus(runContext(cmd), sourceID)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), map[string]int{
			"pending":    counts[types.StatusPending],
			"downloaded": counts[types.StatusDownloaded],
		})
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd, ledgerStatsCmd)
	rootCmd.AddCommand(ledgerCmd)
}
