// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Trial is the JSON artifact written for registry-style sources. Source
// adapters fill what their registry exposes and leave the rest empty.
type Trial struct {
	// ID is the registry-assigned identifier (e.g. "ISRCTN12345678").
	ID string `json:"id" yaml:"id"`

	// Source names the registry the record came from.
	Source string `json:"source" yaml:"source"`

	// URL is the remote page or API resource the record was read from.
	URL string `json:"url" yaml:"url"`

	Title       string   `json:"title" yaml:"title"`
	Acronym     string   `json:"acronym,omitempty" yaml:"acronym,omitempty"`
	Sponsor     string   `json:"sponsor,omitempty" yaml:"sponsor,omitempty"`
	Status      string   `json:"status,omitempty" yaml:"status,omitempty"`
	StudyType   string   `json:"study_type,omitempty" yaml:"study_type,omitempty"`
	Conditions  []string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Countries   []string `json:"countries,omitempty" yaml:"countries,omitempty"`
	ResultsURL  string   `json:"results_url,omitempty" yaml:"results_url,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// Fields keeps labelled values the adapter read but does not model.
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`

	RegisteredAt *time.Time `json:"registered_at,omitempty" yaml:"registered_at,omitempty"`
	LastRevised  *time.Time `json:"last_revised,omitempty" yaml:"last_revised,omitempty"`
}
