// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"fmt"
	"time"
)

// SearchRecord is one completed search run.
type SearchRecord struct {
	Fingerprint string    `yaml:"fingerprint" json:"fingerprint"`
	Query       string    `yaml:"query" json:"query"`
	Conference  string    `yaml:"conference,omitempty" json:"conference,omitempty"`
	Years       string    `yaml:"years" json:"years"`
	Total       int       `yaml:"total" json:"total"`
	Classified  int       `yaml:"classified" json:"classified"`
	Relevant    int       `yaml:"relevant" json:"relevant"`
	Failed      int       `yaml:"failed" json:"failed"`
	ResultsDir  string    `yaml:"results_dir" json:"results_dir"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

// RecordSearch appends rec to the search log.
func (s *Store) RecordSearch(ctx context.Context, rec SearchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO searches (fingerprint, query, conference, years, total, classified, relevant, failed, results_dir, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.Query, rec.Conference, rec.Years,
		rec.Total, rec.Classified, rec.Relevant, rec.Failed, rec.ResultsDir,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording search: %w", err)
	}
	return nil
}

// History returns the most recent searches first. Limit <= 0 returns all.
func (s *Store) History(ctx context.Context, limit int) ([]SearchRecord, error) {
	query := `SELECT fingerprint, query, conference, years, total, classified, relevant, failed, results_dir, created_at
		FROM searches ORDER BY rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	out := []SearchRecord{}
	for rows.Next() {
		var rec SearchRecord
		var created string
		if err := rows.Scan(&rec.Fingerprint, &rec.Query, &rec.Conference, &rec.Years,
			&rec.Total, &rec.Classified, &rec.Relevant, &rec.Failed, &rec.ResultsDir, &created); err != nil {
			return nil, fmt.Errorf("scanning search: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", created, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
