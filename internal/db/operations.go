package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/orrn/printagent/internal/core"
)

// JournalOperations persists dispatch runs, per-copy submissions and daily
// print counters. It satisfies core.Journal.
type JournalOperations struct {
	conn *sql.DB
	now  func() time.Time
}

// NewJournalOperations binds the journal to conn, or to the process-wide
// database opened by Init when conn is nil.
func NewJournalOperations(conn *sql.DB) *JournalOperations {
	if conn == nil {
		conn = GetDB()
	}
	return &JournalOperations{conn: conn, now: time.Now}
}

var _ core.Journal = (*JournalOperations)(nil)

func (o *JournalOperations) StartRun(ctx context.Context, run *core.Run) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = o.now()
	}
	if run.Status == "" {
		run.Status = core.RunStatusProcessing
	}

	result, err := o.conn.ExecContext(ctx, InsertRun,
		run.Kind, run.OrderID, run.ProductID, run.Copies, run.Status, run.StartedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	run.ID = id
	return id, nil
}

func (o *JournalOperations) FinishRun(ctx context.Context, id int64, status core.RunStatus, errMsg string) error {
	result, err := o.conn.ExecContext(ctx, FinishRun, status, errMsg, o.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordSubmission stores one copy's outcome. A printed copy also bumps
// the printer's counter for the day it was submitted.
func (o *JournalOperations) RecordSubmission(ctx context.Context, s *core.Submission) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = o.now()
	}

	tx, err := o.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, InsertSubmission,
		s.RunID, s.CopyIndex, s.Serial, s.Printer, s.JobID, s.Status, s.Error, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get submission id: %w", err)
	}

	if s.Status == core.SubmissionPrinted {
		day := s.CreatedAt.UTC().Format(time.DateOnly)
		if _, err := tx.ExecContext(ctx, IncrementPrintCounter, s.Printer, day, 1); err != nil {
			return fmt.Errorf("failed to update print counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit submission: %w", err)
	}
	s.ID = id
	return nil
}

func (o *JournalOperations) GetRun(ctx context.Context, id int64) (*RunDetail, error) {
	run, err := scanRun(o.conn.QueryRowContext(ctx, GetRunByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := o.conn.QueryContext(ctx, ListSubmissionsByRun, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	detail := &RunDetail{Run: *run, Submissions: []core.Submission{}}
	for rows.Next() {
		var s core.Submission
		if err := rows.Scan(&s.ID, &s.RunID, &s.CopyIndex, &s.Serial, &s.Printer,
			&s.JobID, &s.Status, &s.Error, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		detail.Submissions = append(detail.Submissions, s)
	}
	return detail, rows.Err()
}

// ListRuns returns runs newest first. An empty status lists every run.
func (o *JournalOperations) ListRuns(ctx context.Context, status core.RunStatus, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = o.conn.QueryContext(ctx, ListRuns, limit, offset)
	} else {
		rows, err = o.conn.QueryContext(ctx, ListRunsByStatus, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*core.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (o *JournalOperations) GetRunStats(ctx context.Context) (*RunStats, error) {
	rows, err := o.conn.QueryContext(ctx, CountRunsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	stats := &RunStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan run stats: %w", err)
		}
		switch core.RunStatus(status) {
		case core.RunStatusProcessing:
			stats.Processing = count
		case core.RunStatusCompleted:
			stats.Completed = count
		case core.RunStatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// ListCounters returns the per-printer daily counters for the last days
// days, today included.
func (o *JournalOperations) ListCounters(ctx context.Context, days int) ([]PrintCounter, error) {
	if days <= 0 {
		days = 30
	}
	since := o.now().UTC().AddDate(0, 0, -(days - 1)).Format(time.DateOnly)

	rows, err := o.conn.QueryContext(ctx, ListPrintCounters, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list print counters: %w", err)
	}
	defer rows.Close()

	counters := []PrintCounter{}
	for rows.Next() {
		var c PrintCounter
		if err := rows.Scan(&c.Printer, &c.Date, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan print counter: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	run := &core.Run{}
	var completed sql.NullTime
	if err := row.Scan(&run.ID, &run.Kind, &run.OrderID, &run.ProductID, &run.Copies,
		&run.Status, &run.Error, &run.StartedAt, &completed); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return run, nil
}
