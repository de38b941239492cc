// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfig marks a run that cannot start because a required parameter is
// missing or inconsistent. It is fatal for the run and is returned before
// any fetching begins.
var ErrConfig = errors.New("configuration error")

// HTTPConfig holds shared HTTP settings used by every source adapter.
type HTTPConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "ctmirror/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// MaxAttempts is the total number of attempts per request (default 4).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// LedgerConfig locates the ledger database.
type LedgerConfig struct {
	// Path is the SQLite database file (e.g. "data/ledger.db").
	Path string `json:"path" yaml:"path"`
}

// SourceConfig holds settings shared by the source adapters.
type SourceConfig struct {
	// DataDir is the root under which each source writes its artifacts
	// (DataDir/<source name>/<natural id>.<ext>).
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// PageDelay is the pause between consecutive page fetches of a web source.
	PageDelay time.Duration `json:"page_delay" yaml:"page_delay"`

	// ResultCap is the maximum number of records a capped API returns for a
	// single query (default 10000).
	ResultCap int `json:"result_cap" yaml:"result_cap"`

	// RequestsPerSecond bounds calls to rate-limited APIs (0 uses the
	// adapter's default).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// APIKey is an optional key for APIs that accept one as a query parameter.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// MirrorConfig groups everything a fetch run needs besides its RunPolicy.
type MirrorConfig struct {
	HTTP   HTTPConfig   `json:"http" yaml:"http"`
	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`
	Source SourceConfig `json:"source" yaml:"source"`
}

// Run types. Each type decides which RunPolicy fields are required.
const (
	TypeAll    = 101 // every record the source lists
	TypeCutoff = 111 // records revised on or after CutoffDate
	TypeIDList = 114 // records named in IDFile
)

// TypeName returns the CLI name of a run type.
func TypeName(typeID int) string {
	switch typeID {
	case TypeAll:
		return "all"
	case TypeCutoff:
		return "cutoff"
	case TypeIDList:
		return "ids"
	default:
		return fmt.Sprintf("type-%d", typeID)
	}
}

// ParseType maps a CLI run type name to its id.
func ParseType(name string) (int, error) {
	switch name {
	case "all", "":
		return TypeAll, nil
	case "cutoff":
		return TypeCutoff, nil
	case "ids":
		return TypeIDList, nil
	default:
		return 0, fmt.Errorf("%w: unknown run type %q (want all, cutoff or ids)", ErrConfig, name)
	}
}

// RunPolicy holds the parameters of one fetch run.
type RunPolicy struct {
	SourceID int `json:"source_id" yaml:"source_id"`
	TypeID   int `json:"type_id" yaml:"type_id"`

	// CutoffDate limits the run to records revised on or after this date.
	CutoffDate *time.Time `json:"cutoff_date,omitempty" yaml:"cutoff_date,omitempty"`

	// EndDate is the exclusive upper bound of the revision range (default now).
	EndDate *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`

	// SkipRecentDays skips records downloaded within this many days.
	SkipRecentDays int `json:"skip_recent_days,omitempty" yaml:"skip_recent_days,omitempty"`

	// ForceAll re-fetches every record, including assume-complete ones.
	ForceAll bool `json:"force_all,omitempty" yaml:"force_all,omitempty"`

	// IDFile lists natural identifiers, one per line, for TypeIDList runs.
	IDFile string `json:"id_file,omitempty" yaml:"id_file,omitempty"`

	// Filter is a free-form, source-specific filter recorded with the event.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Validate checks that the policy carries what its run type requires.
func (p RunPolicy) Validate() error {
	if p.SourceID <= 0 {
		return fmt.Errorf("%w: missing source id", ErrConfig)
	}
	if p.SkipRecentDays < 0 {
		return fmt.Errorf("%w: skip-recent days must not be negative", ErrConfig)
	}
	switch p.TypeID {
	case TypeAll:
	case TypeCutoff:
		if p.CutoffDate == nil {
			return fmt.Errorf("%w: run type %s requires a cutoff date", ErrConfig, TypeName(p.TypeID))
		}
	case TypeIDList:
		if p.IDFile == "" {
			return fmt.Errorf("%w: run type %s requires an id file", ErrConfig, TypeName(p.TypeID))
		}
	default:
		return fmt.Errorf("%w: unknown run type %d", ErrConfig, p.TypeID)
	}
	if p.CutoffDate != nil && p.EndDate != nil && !p.EndDate.After(*p.CutoffDate) {
		return fmt.Errorf("%w: end date %s is not after cutoff %s", ErrConfig,
			p.EndDate.Format(time.DateOnly), p.CutoffDate.Format(time.DateOnly))
	}
	return nil
}
