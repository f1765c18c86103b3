// Package store persists run reports and discovery reports to SQLite
// for later audit. The core pipeline never reads this data on the hot
// path; it exists so validation verdicts, plugin failures and derived
// axioms survive the session that produced them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"geneforge/internal/core"
	"geneforge/internal/plugin"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	result      TEXT NOT NULL,
	annotations TEXT NOT NULL,
	inferred    TEXT NOT NULL,
	axioms      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS discoveries (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	loaded      TEXT NOT NULL,
	failures    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_discoveries_started ON discoveries(started_at DESC);
`

// Store is a SQLite-backed history of runs and discoveries.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
// ":memory:" yields an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunRecord is one persisted run.
type RunRecord struct {
	ID          string              `json:"id"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration"`
	Payload     string              `json:"payload"`
	Result      string              `json:"result"`
	Annotations []plugin.Annotation `json:"annotations"`
	Inferred    []string            `json:"inferred"`
	Axioms      []string            `json:"axioms"`
}

// SaveRun persists one run report.
func (s *Store) SaveRun(ctx context.Context, report *core.RunReport) error {
	annotations, err := json.Marshal(report.Annotations)
	if err != nil {
		return fmt.Errorf("failed to encode annotations: %w", err)
	}
	inferred, err := json.Marshal(report.Inferred)
	if err != nil {
		return fmt.Errorf("failed to encode inferred axioms: %w", err)
	}
	axioms, err := json.Marshal(report.Axioms)
	if err != nil {
		return fmt.Errorf("failed to encode axioms: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, started_at, duration_ms, payload, result, annotations, inferred, axioms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.StartedAt.UnixMilli(),
		report.Duration.Milliseconds(),
		report.Payload,
		report.Result,
		string(annotations),
		string(inferred),
		string(axioms),
	)
	if err != nil {
		return fmt.Errorf("failed to persist run %s: %w", report.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, payload, result, annotations, inferred, axioms
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedMs, durationMs int64
		var annotations, inferred, axioms string
		if err := rows.Scan(&rec.ID, &startedMs, &durationMs, &rec.Payload, &rec.Result,
			&annotations, &inferred, &axioms); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedMs)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(annotations), &rec.Annotations); err != nil {
			return nil, fmt.Errorf("failed to decode annotations for run %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(inferred), &rec.Inferred); err != nil {
			return nil, fmt.Errorf("failed to decode inferred axioms for run %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(axioms), &rec.Axioms); err != nil {
			return nil, fmt.Errorf("failed to decode axioms for run %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveDiscovery persists one discovery report.
func (s *Store) SaveDiscovery(ctx context.Context, report plugin.DiscoveryReport) error {
	loaded, err := json.Marshal(report.Loaded)
	if err != nil {
		return fmt.Errorf("failed to encode loaded plugins: %w", err)
	}
	failures, err := json.Marshal(report.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode load failures: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO discoveries (id, source, started_at, duration_ms, loaded, failures)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.Source,
		report.StartedAt.UnixMilli(),
		report.Duration.Milliseconds(),
		string(loaded),
		string(failures),
	)
	if err != nil {
		return fmt.Errorf("failed to persist discovery %s: %w", report.ID, err)
	}
	return nil
}

// ListDiscoveries returns the most recent discovery reports, newest
// first.
func (s *Store) ListDiscoveries(ctx context.Context, limit int) ([]plugin.DiscoveryReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, started_at, duration_ms, loaded, failures
		 FROM discoveries ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query discoveries: %w", err)
	}
	defer rows.Close()

	var reports []plugin.DiscoveryReport
	for rows.Next() {
		var report plugin.DiscoveryReport
		var startedMs, durationMs int64
		var loaded, failures string
		if err := rows.Scan(&report.ID, &report.Source, &startedMs, &durationMs, &loaded, &failures); err != nil {
			return nil, fmt.Errorf("failed to scan discovery row: %w", err)
		}
		report.StartedAt = time.UnixMilli(startedMs)
		report.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(loaded), &report.Loaded); err != nil {
			return nil, fmt.Errorf("failed to decode loaded plugins for %s: %w", report.ID, err)
		}
		if err := json.Unmarshal([]byte(failures), &report.Failures); err != nil {
			return nil, fmt.Errorf("failed to decode load failures for %s: %w", report.ID, err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
