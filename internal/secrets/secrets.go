// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files.
// Each file is one secret: the filename is the key name and the trimmed
// contents are the value.
//
// Known key files: ncbi-api-key.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NCBIAPIKey raises the E-utilities rate limit for the pubmed source.
const NCBIAPIKey = "ncbi-api-key"

// Set maps key names to values.
type Set map[string]string

// Load reads all files in dir. A missing directory is not an error and
// yields an empty Set. Unreadable files are logged and skipped.
func Load(dir string, logger *slog.Logger) (Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	s := make(Set)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", "name", name, "error", err)
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			s[name] = value
		}
	}
	return s, nil
}

// Get returns override when set, otherwise the loaded value of key.
func (s Set) Get(key, override string) string {
	if override != "" {
		return override
	}
	return s[key]
}

// Names returns the loaded key names, sorted. Values are never listed.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
