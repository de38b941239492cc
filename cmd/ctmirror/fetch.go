// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/secrets"
	"github.com/pdiddy/ctmirror/internal/sources"
	"github.com/pdiddy/ctmirror/internal/sources/pubmed"
	"github.com/pdiddy/ctmirror/pkg/types"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one incremental fetch against a source",
	Long: `Fetch enumerates a source's records, fetches the ones the ledger says
are new or may have changed, writes each to <data-dir>/<source>/ and
records the run as a fetch event.

Run types:
  all     every record the source lists
  cutoff  records revised on or after --cutoff (requires --cutoff)
  ids     records listed in --ids, one per line (requires --ids)`,
	RunE: runFetch,
}

func init() {
	f := fetchCmd.Flags()
	f.String("source", "", "source to fetch: "+fmt.Sprint(sources.Names()))
	f.String("type", "all", "run type: all, cutoff, ids")
	f.String("cutoff", "", "only records revised on or after this date (YYYY-MM-DD)")
	f.String("end", "", "only records revised before this date (YYYY-MM-DD, default today)")
	f.Int("skip-recent", 0, "skip records downloaded within this many days")
	f.Bool("force-all", false, "re-fetch every record, including completed ones")
	f.String("ids", "", "file of record ids, one per line")
	f.StringSlice("files", nil, "export files or glob patterns (who)")
	f.String("planner", "", "window planner for capped APIs: bisect or cascade (isrctn)")
	f.String("filter", "", "free-form filter recorded with the event")
	f.String("summary", "", "also write the closed fetch event to this YAML file")
	_ = fetchCmd.MarkFlagRequired("source")

	rootCmd.AddCommand(fetchCmd)
}

// fetchOptions are the flag values that shape a RunPolicy.
type fetchOptions struct {
	Source     string
	Type       string
	Cutoff     string
	End        string
	SkipRecent int
	ForceAll   bool
	IDFile     string
	Filter     string
}

func fetchOptionsFrom(cmd *cobra.Command) fetchOptions {
	var o fetchOptions
	o.Source, _ = cmd.Flags().GetString("source")
	o.Type, _ = cmd.Flags().GetString("type")
	o.Cutoff, _ = cmd.Flags().GetString("cutoff")
	o.End, _ = cmd.Flags().GetString("end")
	o.SkipRecent, _ = cmd.Flags().GetInt("skip-recent")
	o.ForceAll, _ = cmd.Flags().GetBool("force-all")
	o.IDFile, _ = cmd.Flags().GetString("ids")
	o.Filter, _ = cmd.Flags().GetString("filter")
	return o
}

// buildPolicy turns flag values into a validated RunPolicy.
func buildPolicy(o fetchOptions) (types.RunPolicy, error) {
	sourceID, err := sources.ID(o.Source)
	if err != nil {
		return types.RunPolicy{}, err
	}
	typeID, err := types.ParseType(o.Type)
	if err != nil {
		return types.RunPolicy{}, err
	}
	cutoff, err := parseDay("cutoff", o.Cutoff)
	if err != nil {
		return types.RunPolicy{}, err
	}
	end, err := parseDay("end", o.End)
	if err != nil {
		return types.RunPolicy{}, err
	}

	p := types.RunPolicy{
		SourceID:       sourceID,
		TypeID:         typeID,
		CutoffDate:     cutoff,
		EndDate:        end,
		SkipRecentDays: o.SkipRecent,
		ForceAll:       o.ForceAll,
		IDFile:         o.IDFile,
		Filter:         o.Filter,
	}
	return p, p.Validate()
}

// parseDay parses a YYYY-MM-DD flag value as midnight UTC. Empty is nil.
func parseDay(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: --%s %q is not a YYYY-MM-DD date", types.ErrConfig, flag, s)
	}
	return &t, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	opts := fetchOptionsFrom(cmd)
	policy, err := buildPolicy(opts)
	if err != nil {
		return err
	}

	cfg := loadConfig()
	if opts.Source == pubmed.Name {
		cfg.Source.APIKey = loadedSecrets.Get(secrets.NCBIAPIKey, cfg.Source.APIKey)
	}
	files, _ := cmd.Flags().GetStringSlice("files")
	planner, _ := cmd.Flags().GetString("planner")

	src, err := sources.New(opts.Source, httputil.NewClient(cfg.HTTP, logger), sources.Options{
		Source:  cfg.Source,
		Planner: planner,
		Files:   files,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := harvest.NewController(store, cfg.Source.DataDir, logger, os.Stdout)
	ev, runErr := ctrl.Run(ctx, src, policy)

	if path, _ := cmd.Flags().GetString("summary"); path != "" && ev.ID != 0 {
		if err := writeYAMLFile(path, ev); err != nil {
			logger.Error("writing run summary", "path", path, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if ev.NumFailed > 0 {
		fmt.Fprintf(os.Stderr, "%d record(s) failed; they are pending and will be retried next run\n", ev.NumFailed)
	}
	return nil
}

// runContext returns cmd's context, or Background when cobra has none.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
