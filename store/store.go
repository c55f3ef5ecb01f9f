// Package store keeps the history of scans and the latest artifact of each
// case category in a SQL database.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/use-agent/casescan/models"
)

//go:embed schema.sql
var schema string

// Run is one finished scan, successful or not.
type Run struct {
	CaseID       string
	Success      bool
	Complete     bool
	LinksTotal   int
	LinksFetched int
	ErrorCode    string
	ErrorMessage string
	StartedAt    time.Time
	Duration     time.Duration
	Artifacts    []models.Artifact
}

// Store is safe for concurrent use.
type Store struct {
	db       *sql.DB
	postgres bool
}

// Open connects to the database and creates the schema if needed.
// driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var postgres bool
	switch driver {
	case "sqlite":
	case "postgres":
		postgres = true
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if !postgres {
		// a single connection keeps ":memory:" databases alive and
		// serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect %s: %w", driver, err)
	}

	s := &Store{db: db, postgres: postgres}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("store ready", "driver", driver)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun saves run and upserts its artifacts as the latest ones of the
// case. It returns the generated run ID.
func (s *Store) RecordRun(ctx context.Context, run *Run) (string, error) {
	id, err := newRunID()
	if err != nil {
		return "", models.NewScanError(models.ErrCodeStore, "failed to generate run id", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", models.NewScanError(models.ErrCodeStore, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO scan_runs
		(id, case_id, success, complete, links_total, links_fetched, error_code, error_message, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, run.CaseID, boolInt(run.Success), boolInt(run.Complete), run.LinksTotal, run.LinksFetched,
		run.ErrorCode, run.ErrorMessage, run.StartedAt.Unix(), run.Duration.Milliseconds(),
	)
	if err != nil {
		return "", models.NewScanError(models.ErrCodeStore, "failed to insert scan run", err)
	}

	now := time.Now().Unix()
	for _, a := range run.Artifacts {
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO scan_artifacts
			(case_id, category, path, source_url, link_index, run_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (case_id, category) DO UPDATE SET
				path = excluded.path,
				source_url = excluded.source_url,
				link_index = excluded.link_index,
				run_id = excluded.run_id,
				updated_at = excluded.updated_at`),
			run.CaseID, a.Category, a.Path, a.SourceURL, a.LinkIndex, id, now,
		)
		if err != nil {
			return "", models.NewScanError(models.ErrCodeStore, "failed to upsert artifact "+a.Category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", models.NewScanError(models.ErrCodeStore, "failed to commit scan run", err)
	}
	return id, nil
}

// Artifacts returns the latest recorded artifacts of caseID, ordered by the
// position of their source link.
func (s *Store) Artifacts(ctx context.Context, caseID string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT category, path, source_url, link_index
		FROM scan_artifacts WHERE case_id = ? ORDER BY link_index, category`), caseID)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeStore, "failed to query artifacts", err)
	}
	defer rows.Close()

	artifacts := []models.Artifact{}
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.Category, &a.Path, &a.SourceURL, &a.LinkIndex); err != nil {
			return nil, models.NewScanError(models.ErrCodeStore, "failed to read artifact", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewScanError(models.ErrCodeStore, "failed to read artifacts", err)
	}
	return artifacts, nil
}

// RunCount returns how many scans were recorded for caseID.
func (s *Store) RunCount(ctx context.Context, caseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM scan_runs WHERE case_id = ?`), caseID).Scan(&n)
	if err != nil {
		return 0, models.NewScanError(models.ErrCodeStore, "failed to count scan runs", err)
	}
	return n, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newRunID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "run_" + hex.EncodeToString(buf), nil
}
