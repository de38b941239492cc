// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// DownloadStatus is the lifecycle state of a ledger entry.
type DownloadStatus string

const (
	StatusPending    DownloadStatus = "pending"
	StatusDownloaded DownloadStatus = "downloaded"
)

// LedgerEntry records what is known locally about one remote record.
// LocalPath is non-empty iff DownloadStatus is StatusDownloaded and always
// names the most recently committed artifact for NaturalID.
type LedgerEntry struct {
	SourceID  int    `json:"source_id" yaml:"source_id"`
	NaturalID string `json:"natural_id" yaml:"natural_id"`

	RemoteURL   string     `json:"remote_url" yaml:"remote_url"`
	LastRevised *time.Time `json:"last_revised,omitempty" yaml:"last_revised,omitempty"`

	DownloadStatus DownloadStatus `json:"download_status" yaml:"download_status"`

	// AssumeComplete excludes the record from re-fetch unless ForceAll is set.
	AssumeComplete bool `json:"assume_complete" yaml:"assume_complete"`

	LocalPath        string     `json:"local_path,omitempty" yaml:"local_path,omitempty"`
	LastDownloaded   *time.Time `json:"last_downloaded,omitempty" yaml:"last_downloaded,omitempty"`
	LastFetchEventID int64      `json:"last_fetch_event_id,omitempty" yaml:"last_fetch_event_id,omitempty"`
}

// FetchEvent is the audit record of one run against one source.
type FetchEvent struct {
	ID       int64  `json:"id" yaml:"id"`
	RunKey   string `json:"run_key" yaml:"run_key"`
	SourceID int    `json:"source_id" yaml:"source_id"`
	TypeID   int    `json:"type_id" yaml:"type_id"`

	TimeStarted time.Time  `json:"time_started" yaml:"time_started"`
	TimeEnded   *time.Time `json:"time_ended,omitempty" yaml:"time_ended,omitempty"`

	NumChecked    int `json:"num_checked" yaml:"num_checked"`
	NumDownloaded int `json:"num_downloaded" yaml:"num_downloaded"`
	NumAdded      int `json:"num_added" yaml:"num_added"`
	NumFailed     int `json:"num_failed" yaml:"num_failed"`

	Policy RunPolicy `json:"policy" yaml:"policy"`
}

// Closed reports whether the event has been finalised.
func (e FetchEvent) Closed() bool { return e.TimeEnded != nil }

// ArtifactFormat selects how a record is serialised to disk.
type ArtifactFormat string

const (
	FormatJSON ArtifactFormat = "json"
	FormatXML  ArtifactFormat = "xml"
)

// Record is a reconciled remote record ready to be committed.
type Record struct {
	NaturalID   string
	RemoteURL   string
	LastRevised *time.Time
	Format      ArtifactFormat

	// Body is marshalled as JSON when Format is FormatJSON.
	Body any

	// Raw is written verbatim when Format is FormatXML.
	Raw []byte

	// Complete is the adapter's completeness verdict; it becomes the ledger
	// entry's AssumeComplete flag.
	Complete bool
}
