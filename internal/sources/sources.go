// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources builds source adapters by name.
package sources

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/pdiddy/ctmirror/internal/entrez"
	"github.com/pdiddy/ctmirror/internal/harvest"
	"github.com/pdiddy/ctmirror/internal/httputil"
	"github.com/pdiddy/ctmirror/internal/sources/biolincc"
	"github.com/pdiddy/ctmirror/internal/sources/euctr"
	"github.com/pdiddy/ctmirror/internal/sources/isrctn"
	"github.com/pdiddy/ctmirror/internal/sources/pubmed"
	"github.com/pdiddy/ctmirror/internal/sources/who"
	"github.com/pdiddy/ctmirror/pkg/types"
)

// Options carries what the adapters need beyond the shared HTTP client.
type Options struct {
	Source  types.SourceConfig
	Planner string   // isrctn window planner
	Files   []string // who export file patterns
	Logger  *slog.Logger
}

type factory struct {
	id    int
	build func(hc *httputil.Client, o Options) harvest.Source
}

var registry = map[string]factory{
	isrctn.Name: {isrctn.SourceID, func(hc *httputil.Client, o Options) harvest.Source {
		return isrctn.New(hc, o.Source, o.Planner, o.Logger)
	}},
	pubmed.Name: {pubmed.SourceID, func(hc *httputil.Client, o Options) harvest.Source {
		return pubmed.New(entrez.NewClient(hc, o.Source, o.Logger))
	}},
	euctr.Name: {euctr.SourceID, func(hc *httputil.Client, o Options) harvest.Source {
		return euctr.New(hc, o.Source, o.Logger)
	}},
	biolincc.Name: {biolincc.SourceID, func(hc *httputil.Client, o Options) harvest.Source {
		return biolincc.New(hc, o.Source, o.Logger)
	}},
	who.Name: {who.SourceID, func(_ *httputil.Client, o Options) harvest.Source {
		return who.New(o.Files, o.Logger)
	}},
}

// New returns the adapter registered under name.
func New(name string, hc *httputil.Client, o Options) (harvest.Source, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q (want one of %v)", types.ErrConfig, name, Names())
	}
	return f.build(hc, o), nil
}

// ID returns the ledger id of the named source.
func ID(name string) (int, error) {
	f, ok := registry[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown source %q (want one of %v)", types.ErrConfig, name, Names())
	}
	return f.id, nil
}

// Name returns the source name for a ledger id, or "" if none matches.
func Name(id int) string {
	for name, f := range registry {
		if f.id == id {
			return name
		}
	}
	return ""
}

// Names lists the registered sources, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
