// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog keeps a SQLite index of the corpus and a log of past
// searches. The index answers coverage questions (how many papers per
// venue-year still lack abstracts) and keyword browsing without reloading
// every corpus file.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/pkg/types"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "data/catalog.db"

// Store manages the catalog database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS files (
			conference TEXT NOT NULL,
			year TEXT NOT NULL,
			file_mod_time TEXT NOT NULL,
			PRIMARY KEY (conference, year)
		)`,
		`CREATE TABLE IF NOT EXISTS papers (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			conference TEXT NOT NULL,
			year TEXT NOT NULL,
			title TEXT NOT NULL,
			abstract TEXT,
			url TEXT,
			dblp_key TEXT,
			keywords TEXT,
			FOREIGN KEY (conference, year) REFERENCES files(conference, year) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_scope ON papers(conference, year)`,
		`CREATE TABLE IF NOT EXISTS searches (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			fingerprint TEXT NOT NULL,
			query TEXT NOT NULL,
			conference TEXT,
			years TEXT,
			total INTEGER,
			classified INTEGER,
			relevant INTEGER,
			failed INTEGER,
			results_dir TEXT,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// IngestSummary holds counts from a catalog indexing run.
type IngestSummary struct {
	Indexed int `yaml:"indexed" json:"indexed"`
	Updated int `yaml:"updated" json:"updated"`
	Skipped int `yaml:"skipped" json:"skipped"`
	Failed  int `yaml:"failed" json:"failed"`
	Removed int `yaml:"removed" json:"removed"`
}

// Total returns the number of corpus files processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest indexes every <conf>/<year>.json under root. Files whose
// modification time matches the last indexing are skipped; changed files
// have their rows replaced. Scopes whose file no longer exists are removed
// along with their papers.
func (s *Store) Ingest(ctx context.Context, root string, w io.Writer) (IngestSummary, error) {
	if w == nil {
		w = io.Discard
	}
	files, err := filepath.Glob(filepath.Join(root, "*", "*.json"))
	if err != nil {
		return IngestSummary{}, err
	}
	if _, err := os.Stat(root); err != nil {
		return IngestSummary{}, fmt.Errorf("reading corpus directory %s: %w", root, err)
	}
	sort.Strings(files)

	var summary IngestSummary
	seen := make(map[[2]string]bool, len(files))
	for _, path := range files {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		conf := filepath.Base(filepath.Dir(path))
		year := strings.TrimSuffix(filepath.Base(path), ".json")
		label := conf + "/" + year
		seen[[2]string{conf, year}] = true

		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", label, err)
			summary.Failed++
			continue
		}
		modTime := info.ModTime().UTC().Format(time.RFC3339Nano)

		var stored string
		err = s.db.QueryRowContext(ctx,
			`SELECT file_mod_time FROM files WHERE conference = ? AND year = ?`, conf, year,
		).Scan(&stored)
		if err == nil && stored == modTime {
			fmt.Fprintf(w, "skipped %s\n", label)
			summary.Skipped++
			continue
		}
		isUpdate := err == nil

		papers, err := corpus.ReadFile(path, conf, year)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", label, err)
			summary.Failed++
			continue
		}

		if err := s.replaceScope(ctx, conf, year, modTime, papers); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", label, err)
			summary.Failed++
			continue
		}

		if isUpdate {
			fmt.Fprintf(w, "updated %s (%d papers)\n", label, len(papers))
			summary.Updated++
		} else {
			fmt.Fprintf(w, "indexed %s (%d papers)\n", label, len(papers))
			summary.Indexed++
		}
	}

	removed, err := s.removeUnseen(ctx, seen, w)
	summary.Removed = removed
	if err != nil {
		return summary, err
	}

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d, removed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed, summary.Removed)
	return summary, nil
}

// removeUnseen deletes files rows absent from seen. The foreign key cascade
// drops their papers.
func (s *Store) removeUnseen(ctx context.Context, seen map[[2]string]bool, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conference, year FROM files`)
	if err != nil {
		return 0, fmt.Errorf("listing indexed files: %w", err)
	}
	var stale [][2]string
	for rows.Next() {
		var k [2]string
		if err := rows.Scan(&k[0], &k[1]); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning indexed file: %w", err)
		}
		if !seen[k] {
			stale = append(stale, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, k := range stale {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM files WHERE conference = ? AND year = ?`, k[0], k[1],
		); err != nil {
			return removed, fmt.Errorf("removing %s/%s: %w", k[0], k[1], err)
		}
		fmt.Fprintf(w, "removed %s/%s\n", k[0], k[1])
		removed++
	}
	return removed, nil
}

func (s *Store) replaceScope(ctx context.Context, conf, year, modTime string, papers []types.PaperRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (conference, year, file_mod_time) VALUES (?, ?, ?)
		 ON CONFLICT(conference, year) DO UPDATE SET file_mod_time=excluded.file_mod_time`,
		conf, year, modTime,
	); err != nil {
		return fmt.Errorf("updating file status: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM papers WHERE conference = ? AND year = ?`, conf, year,
	); err != nil {
		return fmt.Errorf("deleting old papers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO papers (conference, year, title, abstract, url, dblp_key, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range papers {
		kw, _ := json.Marshal(p.Normalized().Keywords)
		if _, err := stmt.ExecContext(ctx,
			conf, year, p.Title, p.Abstract, p.URL, p.DBLPKey, string(kw),
		); err != nil {
			return fmt.Errorf("inserting %q: %w", p.Title, err)
		}
	}
	return tx.Commit()
}

// ScopeStats reports abstract coverage for one venue-year.
type ScopeStats struct {
	Conference      string `yaml:"conference" json:"conference"`
	Year            string `yaml:"year" json:"year"`
	Total           int    `yaml:"total" json:"total"`
	MissingAbstract int    `yaml:"missing_abstract" json:"missing_abstract"`
}

// Percent returns the share of papers missing an abstract, 0-100.
func (s ScopeStats) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.MissingAbstract) * 100 / float64(s.Total)
}

// Stats returns coverage per venue-year, conferences ascending and years
// descending. An empty conference reports all.
func (s *Store) Stats(ctx context.Context, conference string) ([]ScopeStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conference, year, count(*),
			sum(CASE WHEN abstract IS NULL OR trim(abstract) = '' THEN 1 ELSE 0 END)
		 FROM papers
		 WHERE (? = '' OR conference = ?)
		 GROUP BY conference, year
		 ORDER BY conference ASC, year DESC`,
		conference, conference)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	out := []ScopeStats{}
	for rows.Next() {
		var st ScopeStats
		if err := rows.Scan(&st.Conference, &st.Year, &st.Total, &st.MissingAbstract); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// BrowseOptions filters Browse. Empty fields do not filter.
type BrowseOptions struct {
	Conference string
	Year       string
	// Keyword matches an exact keyword (case-insensitive) or a title substring.
	Keyword string
	Limit   int
}

// Browse lists indexed papers in corpus order.
func (s *Store) Browse(ctx context.Context, opts BrowseOptions) ([]types.PaperRecord, error) {
	query := `SELECT conference, year, title, abstract, url, dblp_key, keywords FROM papers WHERE 1=1`
	var args []any
	if opts.Conference != "" {
		query += ` AND conference = ?`
		args = append(args, opts.Conference)
	}
	if opts.Year != "" {
		query += ` AND year = ?`
		args = append(args, opts.Year)
	}
	if opts.Keyword != "" {
		query += ` AND (EXISTS (SELECT 1 FROM json_each(papers.keywords) WHERE lower(json_each.value) = lower(?))
			OR title LIKE '%' || ? || '%')`
		args = append(args, opts.Keyword, opts.Keyword)
	}
	query += ` ORDER BY conference, year, rowid`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying papers: %w", err)
	}
	defer rows.Close()

	out := []types.PaperRecord{}
	for rows.Next() {
		var p types.PaperRecord
		var abstract, url, key, kw sql.NullString
		if err := rows.Scan(&p.Conference, &p.Year, &p.Title, &abstract, &url, &key, &kw); err != nil {
			return nil, fmt.Errorf("scanning paper: %w", err)
		}
		p.Abstract, p.URL, p.DBLPKey = abstract.String, url.String, key.String
		if kw.Valid && kw.String != "" {
			_ = json.Unmarshal([]byte(kw.String), &p.Keywords)
		}
		out = append(out, p.Normalized())
	}
	return out, rows.Err()
}
