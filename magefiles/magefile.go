//go:build mage

// Package main contains Mage build targets for paper-search developer tooling.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// dataDirs lists the working directories the CLI expects.
var dataDirs = []string{
	"data/dblp",
	"data/enriched",
	"data/cache",
	"data/outputs",
	".secrets",
}

// Init creates the data directory structure.
func Init() error {
	for _, dir := range dataDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Data directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "paper-search"
	cmdPkg  = "./cmd/paper-search"
)

// Build compiles the CLI binary into bin/, stamping the git version when available.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	ver, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || ver == "" {
		ver = "dev"
	}
	out := filepath.Join(binDir, binName)
	if err := sh.RunV("go", "build", "-ldflags", "-X main.version="+ver, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s (%s)\n", out, ver)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Stats prints Go production/test line counts and the number of corpus
// files per conference.
func Stats() error {
	prod, tests, err := countGoLines(".")
	if err != nil {
		return err
	}
	fmt.Printf("Lines of code (Go, production): %d\n", prod)
	fmt.Printf("Lines of code (Go, tests):      %d\n", tests)

	files, _ := filepath.Glob(filepath.Join("data", "enriched", "*", "*.json"))
	perConf := map[string]int{}
	for _, f := range files {
		perConf[filepath.Base(filepath.Dir(f))]++
	}
	confs := make([]string, 0, len(perConf))
	for c := range perConf {
		confs = append(confs, c)
	}
	sort.Strings(confs)
	for _, c := range confs {
		fmt.Printf("Corpus files (%s): %d\n", c, perConf[c])
	}
	return nil
}

// Refresh fetches bibliography data, seeds new files into the corpus,
// merges Semantic Scholar abstracts, scrapes the rest and reindexes the
// catalog.
func Refresh() error {
	mg.Deps(Init, Build)
	return runSteps(
		[]string{"fetch"},
		[]string{"enrich", "--seed-from", "data/dblp", "--from-s2"},
		[]string{"corpus", "index"},
	)
}

// Label extracts keywords for unlabeled papers and reindexes the catalog.
func Label() error {
	mg.Deps(Init, Build)
	return runSteps(
		[]string{"label"},
		[]string{"corpus", "index"},
	)
}

func runSteps(steps ...[]string) error {
	bin := filepath.Join(binDir, binName)
	for _, args := range steps {
		if err := sh.RunV(bin, args...); err != nil {
			return fmt.Errorf("%s: %w", strings.Join(args, " "), err)
		}
	}
	return nil
}

// countGoLines counts non-blank lines in Go files under root, split into
// production and _test.go files. Vendored examples are skipped.
func countGoLines(root string) (prod, tests int, err error) {
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if name := info.Name(); path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		n := 0
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(bytes.TrimSpace(line)) > 0 {
				n++
			}
		}
		if strings.HasSuffix(path, "_test.go") {
			tests += n
		} else {
			prod += n
		}
		return nil
	})
	return prod, tests, err
}
