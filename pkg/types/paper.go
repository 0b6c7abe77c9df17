// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// Conference is a short venue code used for corpus directories and result
// file names.
type Conference string

const (
	ConferenceCCS  Conference = "ccs"
	ConferenceNDSS Conference = "ndss"
	ConferenceSP   Conference = "sp"
	ConferenceUSS  Conference = "uss"
)

// Conferences lists the supported venues in display order.
var Conferences = []Conference{ConferenceCCS, ConferenceNDSS, ConferenceSP, ConferenceUSS}

// ParseConference normalizes s and checks it against the supported venues.
// The empty string is returned unchanged and means "all venues".
func ParseConference(s string) (Conference, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	for _, c := range Conferences {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported conference %q: use one of ccs, ndss, sp, uss", s)
}

// PaperRecord is the normalized view of one corpus entry. Search results use
// the same shape.
type PaperRecord struct {
	// Title is never empty for records that enter the corpus.
	Title string `json:"title" yaml:"title"`

	// Abstract may be empty when enrichment has not found one.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Year is the publication year as it appears in the corpus file name.
	Year string `json:"year" yaml:"year"`

	// Conference is the venue code (ccs, ndss, sp, uss).
	Conference string `json:"conference" yaml:"conference"`

	// URL is the first electronic-edition link from the bibliography entry.
	URL string `json:"url" yaml:"url"`

	// DBLPKey is the bibliography key (e.g. "conf/ccs/Smith20").
	DBLPKey string `json:"dblp_key" yaml:"dblp_key"`

	// Keywords holds externally extracted keywords. Never nil in output.
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// Normalized returns a copy with a non-nil Keywords slice.
func (p PaperRecord) Normalized() PaperRecord {
	if p.Keywords == nil {
		p.Keywords = []string{}
	}
	return p
}
