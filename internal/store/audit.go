// ABOUTME: Append-only audit log storage for the SQLite store
// ABOUTME: Records who did what to which assistant, newest entries listed first

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendLog appends a new entry to the audit log.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) AppendLog(ctx context.Context, r *LogRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var detailJSON *string
	if r.Detail != nil {
		data, err := json.Marshal(r.Detail)
		if err != nil {
			return fmt.Errorf("marshaling log detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO logs (id, kind, description, actor_id, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.Kind,
		r.Description,
		r.ActorID,
		detailJSON,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}

	s.logger.Debug("appended log",
		"id", r.ID,
		"actor", r.ActorID,
		"kind", r.Kind,
	)
	return nil
}

// ListLogs returns up to limit entries, newest first
func (s *SQLiteStore) ListLogs(ctx context.Context, limit int) ([]*LogRecord, error) {
	limit = normalizeLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, description, actor_id, detail_json, created_at
		FROM logs
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var out []*LogRecord
	for rows.Next() {
		var (
			r          LogRecord
			detailJSON sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Description, &r.ActorID, &detailJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		if detailJSON.Valid {
			if err := json.Unmarshal([]byte(detailJSON.String), &r.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling log detail: %w", err)
			}
		}
		r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
