// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the ctmirror CLI, which keeps local
// mirrors of clinical-trial registries up to date.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/ctmirror/internal/ledger"
	"github.com/pdiddy/ctmirror/internal/secrets"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from the secrets directory at startup.
var loadedSecrets secrets.Set

// logger is built from --log-level and --log-json before any command runs.
var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "ctmirror",
	Short: "Incrementally mirror clinical-trial registries",
	Long: `ctmirror keeps a local copy of records from clinical-trial registries
(ISRCTN, PubMed, EUCTR, BioLINCC and WHO ICTRP exports). A ledger database
remembers what was downloaded and when, so each run fetches only records
that are new or may have changed.

Each run is recorded as a fetch event with its counters.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(os.Stderr, viper.GetString("log_level"), viper.GetBool("log_json"))
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)

		s, err := secrets.Load(viper.GetString("secrets_dir"), logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			logger.Debug("loaded secrets", "keys", s.Names())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./ctmirror.yaml or ~/.config/ctmirror/ctmirror.yaml)")
	pf.String("data-dir", "data", "root directory for mirrored records")
	pf.String("ledger", "", "ledger database (default: <data-dir>/ledger.db)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("log-json", false, "log JSON instead of text")

	_ = viper.BindPFlag("source.data_dir", pf.Lookup("data-dir"))
	_ = viper.BindPFlag("ledger.path", pf.Lookup("ledger"))
	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log_json", pf.Lookup("log-json"))

	viper.SetDefault("secrets_dir", ".secrets/")
	viper.SetDefault("http.timeout", 60*time.Second)
	viper.SetDefault("http.max_attempts", 4)
	viper.SetDefault("source.page_delay", time.Second)
	viper.SetDefault("source.result_cap", 10000)
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ctmirror")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "ctmirror"))
		}
	}

	viper.SetEnvPrefix("CTMIRROR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig assembles the run configuration from flags, environment and
// config file.
func loadConfig() types.MirrorConfig {
	cfg := types.MirrorConfig{
		HTTP: types.HTTPConfig{
			Timeout:     viper.GetDuration("http.timeout"),
			UserAgent:   viper.GetString("http.user_agent"),
			MaxAttempts: viper.GetInt("http.max_attempts"),
		},
		Ledger: types.LedgerConfig{Path: viper.GetString("ledger.path")},
		Source: types.SourceConfig{
			DataDir:           viper.GetString("source.data_dir"),
			PageDelay:         viper.GetDuration("source.page_delay"),
			ResultCap:         viper.GetInt("source.result_cap"),
			RequestsPerSecond: viper.GetFloat64("source.requests_per_second"),
			APIKey:            viper.GetString("source.api_key"),
		},
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "ctmirror/" + version
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = filepath.Join(cfg.Source.DataDir, "ledger.db")
	}
	return cfg
}

func openLedger(cfg types.MirrorConfig) (*ledger.Store, error) {
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return store, nil
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: bad log level %q", types.ErrConfig, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, types.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
