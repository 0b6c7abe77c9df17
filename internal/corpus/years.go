// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// ParseYears expands a year-set spec such as "2015,2016,2018-2020" into a
// sorted list of unique years. Empty parts are ignored. Invalid parts
// (non-numeric, or a range whose start exceeds its end) are logged and
// skipped. An empty spec expands fallback instead.
func ParseYears(spec, fallback string, logger *slog.Logger) []int {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(spec) == "" {
		spec = fallback
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(lo))
			end, err2 := strconv.Atoi(strings.TrimSpace(hi))
			if err1 != nil || err2 != nil || start > end {
				logger.Warn("skipping invalid year range", "part", part)
				continue
			}
			for y := start; y <= end; y++ {
				seen[y] = true
			}
			continue
		}

		y, err := strconv.Atoi(part)
		if err != nil {
			logger.Warn("skipping invalid year", "part", part)
			continue
		}
		seen[y] = true
	}

	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
