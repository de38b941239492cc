// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/sources/isrctn"
	"github.com/pdiddy/ctmirror/internal/window"
	"github.com/pdiddy/ctmirror/pkg/types"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the query windows an isrctn run would use",
	Long: `Plan probes the ISRCTN API for counts and prints the revision-date
windows a fetch would query, without fetching any records. Windows marked
OVERFLOW still exceed the result cap.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().String("cutoff", "", "range start (YYYY-MM-DD, default 2000-01-01)")
	planCmd.Flags().String("end", "", "range end, exclusive (YYYY-MM-DD, default tomorrow)")
	planCmd.Flags().String("planner", isrctn.PlannerBisect, "bisect or cascade")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cutoffFlag, _ := cmd.Flags().GetString("cutoff")
	endFlag, _ := cmd.Flags().GetString("end")
	planner, _ := cmd.Flags().GetString("planner")

	cutoff, err := parseDay("cutoff", cutoffFlag)
	if err != nil {
		return err
	}
	end, err := parseDay("end", endFlag)
	if err != nil {
		return err
	}
	policy := types.RunPolicy{SourceID: isrctn.SourceID, TypeID: types.TypeAll, CutoffDate: cutoff, EndDate: end}
	if err := policy.Validate(); err != nil {
		return err
	}

	cfg := loadConfig()
	src := isrctn.New(httputil.NewClient(cfg.HTTP, logger), cfg.Source, planner, logger)
	if err := src.Validate(policy); err != nil {
		return err
	}

	windows, err := src.Windows(runContext(cmd), src.Range(policy))
	if err != nil {
		return err
	}
	return printWindows(cmd, windows)
}

func printWindows(cmd *cobra.Command, windows []window.Window) error {
	out := cmd.OutOrStdout()
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Start", "End", "Count", ""})

	total := 0
	for _, w := range windows {
		mark := ""
		if w.Overflow {
			mark = "OVERFLOW"
		}
		t.AppendRow(table.Row{w.Range.Start.Format(time.DateOnly), w.Range.End.Format(time.DateOnly), w.Count, mark})
		total += w.Count
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	_, err := fmt.Fprintf(out, "%d windows, %d records\n", len(windows), total)
	return err
}
