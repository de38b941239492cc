//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Fetch builds the CLI and runs an incremental fetch of one source, skipping
// records downloaded in the last week.
func Fetch(source string) error {
	mg.Deps(Build, Init)
	return sh.RunV(filepath.Join(binDir, binName), "fetch", "--source", source, "--skip-recent", "7")
}
