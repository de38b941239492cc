// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/ctmirror/internal/sources"
	"github.com/pdiddy/ctmirror/pkg/types"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent fetch events",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().String("source", "", "only events of this source")
	eventsCmd.Flags().Int("limit", 20, "maximum number of events")
	eventsCmd.Flags().Bool("table", false, "print a table instead of YAML")

	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")

	sourceID := 0
	if name != "" {
		id, err := sources.ID(name)
		if err != nil {
			return err
		}
		sourceID = id
	}

	store, err := openLedger(loadConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.RecentEvents(runContext(cmd), sourceID, limit)
	if err != nil {
		return err
	}
	if asTable, _ := cmd.Flags().GetBool("table"); asTable {
		printEvents(cmd.OutOrStdout(), events)
		return nil
	}
	return writeYAML(cmd.OutOrStdout(), events)
}

func printEvents(w io.Writer, events []types.FetchEvent) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Source", "Type", "Started", "Duration", "Checked", "Downloaded", "Added", "Failed"})
	for _, ev := range events {
		dur := "open"
		if ev.TimeEnded != nil {
			dur = ev.TimeEnded.Sub(ev.TimeStarted).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			ev.ID, sources.Name(ev.SourceID), types.TypeName(ev.TypeID),
			ev.TimeStarted.Local().Format(time.DateTime), dur,
			ev.NumChecked, ev.NumDownloaded, ev.NumAdded, ev.NumFailed,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
