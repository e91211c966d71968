package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Run is one recorded group outcome.
type Run struct {
	ID           int64         `json:"id"`
	RunID        string        `json:"run_id"`
	Command      string        `json:"command"`
	Group        string        `json:"group"`
	Source       string        `json:"source,omitempty"`
	Output       string        `json:"output,omitempty"`
	Status       string        `json:"status"`
	Verification string        `json:"verification,omitempty"`
	Game         string        `json:"game,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ListOptions filters List.
type ListOptions struct {
	Limit  int
	Status string
	RunID  string
}

// timeLayout is fixed-width so created_at sorts and compares as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, run_id, command, group_name, source_path, output_path, status,
    verification, game, error_message, duration_ms, created_at`

// Record inserts run and returns it with its ID and timestamp assigned.
func (s *Store) Record(ctx context.Context, run Run) (*Run, error) {
	if strings.TrimSpace(run.RunID) == "" || strings.TrimSpace(run.Command) == "" {
		return nil, fmt.Errorf("record run: run id and command are required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC()

	res, err := s.execWithRetry(ctx,
		`INSERT INTO runs (
            run_id, command, group_name, source_path, output_path, status,
            verification, game, error_message, duration_ms, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Command,
		run.Group,
		nullableString(run.Source),
		nullableString(run.Output),
		run.Status,
		nullableString(run.Verification),
		nullableString(run.Game),
		nullableString(run.Error),
		run.Duration.Milliseconds(),
		run.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	run.ID = id
	return &run, nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, opts.RunID)
	}
	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats counts recorded runs by status.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Prune deletes runs recorded before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM runs WHERE created_at < ?", cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run                                      Run
		source, output, verification, game, errm sql.NullString
		durationMS                               int64
		createdAt                                string
	)
	if err := scanner.Scan(
		&run.ID,
		&run.RunID,
		&run.Command,
		&run.Group,
		&source,
		&output,
		&run.Status,
		&verification,
		&game,
		&errm,
		&durationMS,
		&createdAt,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Source = source.String
	run.Output = output.String
	run.Verification = verification.String
	run.Game = game.String
	run.Error = errm.String
	run.Duration = time.Duration(durationMS) * time.Millisecond
	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	run.CreatedAt = ts
	return run, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
