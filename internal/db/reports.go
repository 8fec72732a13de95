package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/boostd/boostd/internal/models"
)

// ReportRow is one stored external report entry. Expiry is nil for values
// that hold until released.
type ReportRow struct {
	ID         int64
	Timestamp  time.Time
	Batch      int64
	ResourceID int
	Value      int64
	Expiry     *time.Time
}

// Report stores one batch of changed values. All entries of a batch share
// the same batch number and timestamp.
func (s *Store) Report(ctx context.Context, entries []models.ReportEntry) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report: %w", err)
	}
	var batch int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(batch), 0) + 1 FROM reports`).Scan(&batch); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("next report batch: %w", err)
	}
	ts := s.timestamp()
	for _, e := range entries {
		var expiry interface{}
		if !e.Expiry.Equal(models.Forever) {
			expiry = formatTime(e.Expiry)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO reports (ts, batch, resource_id, value, expires_at) VALUES (?, ?, ?, ?, ?)`,
			ts, batch, e.ResourceID, e.Value, expiry); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert report for resource %d: %w", e.ResourceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// ListReportsTail returns the newest limit report rows, oldest first.
func (s *Store) ListReportsTail(ctx context.Context, limit int) ([]ReportRow, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, batch, resource_id, value, expires_at
		FROM reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports tail: %w", err)
	}
	defer rows.Close()
	var out []ReportRow
	for rows.Next() {
		row, err := scanReportRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanReportRow(scanner interface{ Scan(dest ...any) error }) (ReportRow, error) {
	var row ReportRow
	var ts string
	var expiry sql.NullString
	if err := scanner.Scan(&row.ID, &ts, &row.Batch, &row.ResourceID, &row.Value, &expiry); err != nil {
		return ReportRow{}, err
	}
	parsed, err := parseTime(ts)
	if err != nil {
		return ReportRow{}, fmt.Errorf("parse report ts: %w", err)
	}
	row.Timestamp = parsed
	if expiry.Valid {
		value, err := parseTime(expiry.String)
		if err != nil {
			return ReportRow{}, fmt.Errorf("parse report expiry: %w", err)
		}
		row.Expiry = &value
	}
	return row, nil
}
