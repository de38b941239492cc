//go:build mage

// Package main contains Mage build targets for ctmirror developer tooling.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir  = "bin"
	binName = "ctmirror"
	cmdPkg  = "./cmd/ctmirror"
	dataDir = "data"
)

// sourceNames lists the mirrored sources, one data directory each.
var sourceNames = []string{"biolincc", "euctr", "isrctn", "pubmed", "who"}

// Init creates the data directory layout and the secrets directory.
func Init() error {
	dirs := []string{".secrets"}
	for _, s := range sourceNames {
		dirs = append(dirs, filepath.Join(dataDir, s))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Mirror directories initialized.")
	return nil
}

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	if err := sh.RunV("go", "build", "-ldflags", "-X main.version="+gitVersion(), "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Stats prints how many records each source has on disk.
func Stats() error {
	total := 0
	for _, s := range sourceNames {
		n, err := countRecords(filepath.Join(dataDir, s))
		if err != nil {
			return err
		}
		fmt.Printf("%-10s %8d\n", s, n)
		total += n
	}
	fmt.Printf("%-10s %8d\n", "total", total)
	return nil
}

// Events builds the CLI and prints the most recent fetch events.
func Events() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "events", "--limit", "10")
}

// countRecords counts the .json and .xml artifacts directly under dir.
func countRecords(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".xml":
			n++
		}
	}
	return n, nil
}

func gitVersion() string {
	v, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || v == "" {
		return "dev"
	}
	return v
}
