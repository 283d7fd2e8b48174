// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists finalized document results to SQLite.
// Implements: prd005-output (R1-R3); docs/ARCHITECTURE § Store.
//
// The canonical record is stored as a JSON blob; the audit trail and
// warnings are relational so disagreements can be queried across a
// batch without unpacking every record.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

const dbFile = "evidence.db"

// Store manages the evidence SQLite database.
type Store struct {
	db  *sql.DB
	dir string
}

// NewStore opens or creates the database at dir/evidence.db, creating
// the schema if it does not exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, dir: dir}
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
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			token TEXT,
			source_path TEXT,
			category TEXT,
			record TEXT NOT NULL,
			needs_review INTEGER NOT NULL DEFAULT 0,
			processed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			value TEXT,
			evidence TEXT,
			page INTEGER,
			source TEXT,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			superseded INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_document ON decisions(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status)`,
		`CREATE TABLE IF NOT EXISTS warnings (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			rule TEXT NOT NULL,
			paths TEXT,
			message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_warnings_document ON warnings(document_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save writes one finalized result, replacing any earlier run for the
// same identity. The whole write is one transaction.
func (s *Store) Save(ctx context.Context, result *types.DocumentResult) error {
	recordJSON, err := json.Marshal(result.Record)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Replace any earlier run for the same document.
	if _, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE document_id = ?`, result.ID); err != nil {
		return fmt.Errorf("clearing old decisions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM warnings WHERE document_id = ?`, result.ID); err != nil {
		return fmt.Errorf("clearing old warnings: %w", err)
	}

	needsReview := 0
	if result.NeedsReview {
		needsReview = 1
	}
	processedAt := ""
	if !result.ProcessedAt.IsZero() {
		processedAt = result.ProcessedAt.UTC().Format(time.RFC3339)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, token, source_path, category, record, needs_review, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			token=excluded.token, source_path=excluded.source_path,
			category=excluded.category, record=excluded.record,
			needs_review=excluded.needs_review, processed_at=excluded.processed_at`,
		result.ID, result.Token, result.SourcePath, string(result.Category),
		string(recordJSON), needsReview, processedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO decisions (document_id, path, value, evidence, page, source, seq, status, superseded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing decision insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range result.Audit {
		valueJSON, err := json.Marshal(e.Decision.Value)
		if err != nil {
			return fmt.Errorf("marshaling decision value at %s: %w", e.Decision.Path, err)
		}
		superseded := 0
		if e.Superseded {
			superseded = 1
		}
		_, err = stmt.ExecContext(ctx,
			result.ID, e.Decision.Path, string(valueJSON), e.Decision.Evidence,
			e.Decision.Page, e.Decision.Source, e.Decision.Sequence,
			string(e.Decision.Status), superseded,
		)
		if err != nil {
			return fmt.Errorf("inserting decision at %s: %w", e.Decision.Path, err)
		}
	}

	for _, warning := range result.Warnings {
		pathsJSON, _ := json.Marshal(warning.Paths)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO warnings (document_id, rule, paths, message) VALUES (?, ?, ?, ?)`,
			result.ID, warning.Rule, string(pathsJSON), warning.Message,
		)
		if err != nil {
			return fmt.Errorf("inserting warning %s: %w", warning.Rule, err)
		}
	}

	return tx.Commit()
}

// Get loads one finalized result with its full audit trail and warnings.
func (s *Store) Get(ctx context.Context, id string) (*types.DocumentResult, error) {
	result := &types.DocumentResult{ID: id}

	var recordJSON, processedAt string
	var needsReview int
	var category string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, source_path, category, record, needs_review, processed_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&result.Token, &result.SourcePath, &category, &recordJSON, &needsReview, &processedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}

	result.Category = types.StudyCategory(category)
	result.NeedsReview = needsReview != 0
	if processedAt != "" {
		if t, err := time.Parse(time.RFC3339, processedAt); err == nil {
			result.ProcessedAt = t
		}
	}
	if err := json.Unmarshal([]byte(recordJSON), &result.Record); err != nil {
		return nil, fmt.Errorf("parsing record for %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value, evidence, page, source, seq, status, superseded
		 FROM decisions WHERE document_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("loading decisions for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.AuditEntry
		var valueJSON, status string
		var superseded int
		if err := rows.Scan(&e.Decision.Path, &valueJSON, &e.Decision.Evidence,
			&e.Decision.Page, &e.Decision.Source, &e.Decision.Sequence,
			&status, &superseded); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		if valueJSON != "" {
			if err := json.Unmarshal([]byte(valueJSON), &e.Decision.Value); err != nil {
				return nil, fmt.Errorf("parsing decision value at %s: %w", e.Decision.Path, err)
			}
		}
		e.Decision.Status = types.DecisionStatus(status)
		e.Superseded = superseded != 0
		result.Audit = append(result.Audit, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decisions: %w", err)
	}

	wrows, err := s.db.QueryContext(ctx,
		`SELECT rule, paths, message FROM warnings WHERE document_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("loading warnings for %s: %w", id, err)
	}
	defer wrows.Close()

	for wrows.Next() {
		var warning types.Warning
		var pathsJSON string
		if err := wrows.Scan(&warning.Rule, &pathsJSON, &warning.Message); err != nil {
			return nil, fmt.Errorf("scanning warning: %w", err)
		}
		if pathsJSON != "" {
			json.Unmarshal([]byte(pathsJSON), &warning.Paths)
		}
		result.Warnings = append(result.Warnings, warning)
	}
	return result, wrows.Err()
}

// Summary is one row of a batch listing.
type Summary struct {
	ID          string    `json:"id" yaml:"id"`
	Category    string    `json:"category" yaml:"category"`
	NeedsReview bool      `json:"needs_review" yaml:"needs_review"`
	Warnings    int       `json:"warnings" yaml:"warnings"`
	Disputed    int       `json:"disputed" yaml:"disputed"`
	ProcessedAt time.Time `json:"processed_at" yaml:"processed_at"`
}

// List returns one Summary per stored document, ordered by identifier.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.category, d.needs_review, d.processed_at,
			(SELECT count(*) FROM warnings w WHERE w.document_id = d.id),
			(SELECT count(*) FROM decisions x WHERE x.document_id = d.id
				AND x.status = 'disputed' AND x.superseded = 0)
		 FROM documents d ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var needsReview int
		var processedAt string
		if err := rows.Scan(&sm.ID, &sm.Category, &needsReview, &processedAt,
			&sm.Warnings, &sm.Disputed); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sm.NeedsReview = needsReview != 0
		if processedAt != "" {
			if t, err := time.Parse(time.RFC3339, processedAt); err == nil {
				sm.ProcessedAt = t
			}
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// exportEntry is one document in an export file: final values plus the
// warnings a reader needs to judge them.
type exportEntry struct {
	ID          string          `json:"id" yaml:"id"`
	Category    string          `json:"category" yaml:"category"`
	NeedsReview bool            `json:"needs_review" yaml:"needs_review"`
	Record      map[string]any  `json:"record" yaml:"record"`
	Warnings    []types.Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ExportYAML writes every stored record to dir/export.yaml.
func (s *Store) ExportYAML(ctx context.Context) error {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, "export.yaml"), data, 0o644)
}

// ExportJSON writes every stored record to dir/export.json.
func (s *Store) ExportJSON(ctx context.Context) error {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, "export.json"), data, 0o644)
}

func (s *Store) exportEntries(ctx context.Context) ([]exportEntry, error) {
	summaries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]exportEntry, 0, len(summaries))
	for _, sm := range summaries {
		result, err := s.Get(ctx, sm.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, exportEntry{
			ID:          result.ID,
			Category:    string(result.Category),
			NeedsReview: result.NeedsReview,
			Record:      result.Record,
			Warnings:    result.Warnings,
		})
	}
	return entries, nil
}
