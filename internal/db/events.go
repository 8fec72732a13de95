package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one journal row: an accepted or rejected client request, or a
// daemon lifecycle change.
type Event struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	RequestID string
	CmdID     *int
	Client    string
	Message   string
	JSON      string
}

// RecordEvent appends ev to the journal. ID and Timestamp are assigned by
// the store.
func (s *Store) RecordEvent(ctx context.Context, ev Event) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	kind := strings.TrimSpace(ev.Kind)
	if kind == "" {
		return errors.New("event kind is required")
	}
	var cmd sql.NullInt64
	if ev.CmdID != nil {
		cmd = sql.NullInt64{Valid: true, Int64: int64(*ev.CmdID)}
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO events (ts, kind, request_id, cmd_id, client, msg, json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.timestamp(), kind, nullIfEmpty(ev.RequestID), cmd, nullIfEmpty(ev.Client), nullIfEmpty(ev.Message), nullIfEmpty(ev.JSON))
	if err != nil {
		return fmt.Errorf("insert event %q: %w", kind, err)
	}
	return nil
}

// ListEvents returns events with id greater than afterID in ascending order.
func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, kind, request_id, cmd_id, client, msg, json
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEventsTail returns the newest limit events, oldest first.
func (s *Store) ListEventsTail(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, kind, request_id, cmd_id, client, msg, json
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events tail: %w", err)
	}
	defer rows.Close()
	out, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func scanEventRow(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var ev Event
	var ts string
	var requestID sql.NullString
	var cmdID sql.NullInt64
	var client sql.NullString
	var msg sql.NullString
	var jsonPayload sql.NullString
	if err := scanner.Scan(&ev.ID, &ts, &ev.Kind, &requestID, &cmdID, &client, &msg, &jsonPayload); err != nil {
		return Event{}, err
	}
	parsed, err := parseTime(ts)
	if err != nil {
		return Event{}, fmt.Errorf("parse event ts: %w", err)
	}
	ev.Timestamp = parsed
	if cmdID.Valid {
		value := int(cmdID.Int64)
		ev.CmdID = &value
	}
	ev.RequestID = requestID.String
	ev.Client = client.String
	ev.Message = msg.String
	ev.JSON = jsonPayload.String
	return ev, nil
}
