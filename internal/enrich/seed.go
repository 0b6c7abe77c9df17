// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdiddy/paper-search/internal/fsutil"
)

// Seed copies <conf>/<year>.json files from a freshly fetched bibliography
// directory into the corpus root. Files already in the corpus are kept, so
// abstracts gathered earlier are never overwritten. It returns the corpus
// paths it created.
func Seed(srcRoot, corpusRoot string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(srcRoot, "*", "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var created []string
	for _, src := range matches {
		rel, err := filepath.Rel(srcRoot, src)
		if err != nil {
			return created, err
		}
		dst := filepath.Join(corpusRoot, rel)
		if _, err := os.Stat(dst); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return created, fmt.Errorf("checking %s: %w", dst, err)
		}

		data, err := os.ReadFile(src)
		if err != nil {
			return created, fmt.Errorf("reading %s: %w", src, err)
		}
		if err := fsutil.WriteFileAtomic(dst, data); err != nil {
			return created, err
		}
		created = append(created, dst)
	}
	return created, nil
}
