// Package store persists run history in Postgres: one row per analytics run
// plus one row per catalog query, so past reports can be rebuilt without
// re-running anything.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-analytics-pipeline/internal/models"
	"order-analytics-pipeline/internal/report"
)

// ErrNotFound is returned when a run id or dataset has no stored report.
var ErrNotFound = errors.New("run not found")

const (
	runStatusRunning  = "running"
	runStatusFinished = "finished"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunSummary is the list-view projection of a run.
type RunSummary struct {
	ID               string     `json:"id"`
	Dataset          string     `json:"dataset"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DurationMS       int64      `json:"duration_ms"`
	QueriesTotal     int        `json:"queries_total"`
	QueriesSucceeded int        `json:"queries_succeeded"`
	QueriesFailed    int        `json:"queries_failed"`
}

// CreateRun inserts the run row before any query is submitted, so a crashed
// run still leaves a visible trace in history.
func (s *Store) CreateRun(ctx context.Context, id, dataset string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, dataset, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, id, dataset, runStatusRunning, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// SaveReport marks the run finished and writes one row per report entry.
// Re-saving the same report is harmless.
func (s *Store) SaveReport(ctx context.Context, rep *report.Report) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	finished := rep.StartedAt.Add(rep.Duration).UTC()
	_, err = tx.Exec(ctx, `
		UPDATE runs
		SET status = $2, finished_at = $3, duration_ms = $4,
		    queries_total = $5, queries_succeeded = $6, queries_failed = $7
		WHERE id = $1
	`, rep.RunID, runStatusFinished, finished, rep.Duration.Milliseconds(),
		len(rep.Entries), rep.Succeeded(), rep.Failed())
	if err != nil {
		return fmt.Errorf("update run %s: %w", rep.RunID, err)
	}

	for _, e := range rep.Entries {
		state := string(models.JobSucceeded)
		attempts := 0
		var lastError *string
		var colsJSON, rowsJSON []byte

		if e.Result != nil {
			if colsJSON, err = json.Marshal(e.Result.Columns); err != nil {
				return fmt.Errorf("marshal columns for %s: %w", e.Name, err)
			}
			if rowsJSON, err = json.Marshal(e.Result.Rows); err != nil {
				return fmt.Errorf("marshal rows for %s: %w", e.Name, err)
			}
		} else if e.Failure != nil {
			state = string(e.Failure.State)
			attempts = e.Failure.Attempts
			if e.Failure.Error != "" {
				msg := e.Failure.Error
				lastError = &msg
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO run_queries (run_id, position, name, question, state, attempts, last_error, result_columns, result_rows)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id, position) DO NOTHING
		`, rep.RunID, e.Position, e.Name, e.Question, state, attempts, lastError, colsJSON, rowsJSON)
		if err != nil {
			return fmt.Errorf("insert run query %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetReport rebuilds a stored report by run id.
func (s *Store) GetReport(ctx context.Context, id string) (*report.Report, error) {
	var (
		rep        report.Report
		durationMS int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, dataset, started_at, duration_ms FROM runs WHERE id = $1
	`, id).Scan(&rep.RunID, &rep.Dataset, &rep.StartedAt, &durationMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	rep.Duration = time.Duration(durationMS) * time.Millisecond

	rows, err := s.pool.Query(ctx, `
		SELECT position, name, question, state, attempts, last_error, result_columns, result_rows
		FROM run_queries WHERE run_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query run entries %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry    report.Entry
			state    string
			attempts int
			lastErr  pgtype.Text
			colsJSON []byte
			rowsJSON []byte
		)
		if err := rows.Scan(&entry.Position, &entry.Name, &entry.Question, &state, &attempts, &lastErr, &colsJSON, &rowsJSON); err != nil {
			return nil, fmt.Errorf("scan run entry: %w", err)
		}
		if state == string(models.JobSucceeded) && colsJSON != nil {
			var rs models.ResultSet
			if err := json.Unmarshal(colsJSON, &rs.Columns); err != nil {
				return nil, fmt.Errorf("unmarshal columns for %s: %w", entry.Name, err)
			}
			if rowsJSON != nil {
				if err := json.Unmarshal(rowsJSON, &rs.Rows); err != nil {
					return nil, fmt.Errorf("unmarshal rows for %s: %w", entry.Name, err)
				}
			}
			entry.Result = &rs
		} else {
			f := report.Failure{State: models.JobState(state), Attempts: attempts}
			if lastErr.Valid {
				f.Error = lastErr.String
			}
			entry.Failure = &f
		}
		rep.Entries = append(rep.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run entries: %w", err)
	}
	return &rep, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataset, status, started_at, finished_at, duration_ms,
		       queries_total, queries_succeeded, queries_failed
		FROM runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]RunSummary, 0, limit)
	for rows.Next() {
		var (
			r        RunSummary
			finished pgtype.Timestamptz
		)
		if err := rows.Scan(&r.ID, &r.Dataset, &r.Status, &r.StartedAt, &finished, &r.DurationMS,
			&r.QueriesTotal, &r.QueriesSucceeded, &r.QueriesFailed); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		summaries = append(summaries, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return summaries, nil
}

// LatestRunID returns the newest finished run for a dataset.
func (s *Store) LatestRunID(ctx context.Context, dataset string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM runs
		WHERE dataset = $1 AND status = $2
		ORDER BY started_at DESC LIMIT 1
	`, dataset, runStatusFinished).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return id, nil
}
