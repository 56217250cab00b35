// ABOUTME: Admin set persistence for the SQLite store
// ABOUTME: Owner privilege is implicit, so only granted admins live here

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddAdmin grants admin privilege. Returns ErrDuplicate if the user is already an admin.
func (s *SQLiteStore) AddAdmin(ctx context.Context, a *Admin) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admins (user_id, added_by, created_at) VALUES (?, ?, ?)`,
		a.UserID, a.AddedBy, a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting admin: %w", err)
	}

	s.logger.Debug("added admin", "user_id", a.UserID, "added_by", a.AddedBy)
	return nil
}

// RemoveAdmin revokes admin privilege
func (s *SQLiteStore) RemoveAdmin(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM admins WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting admin: %w", err)
	}
	return requireAffected(result)
}

// IsAdmin reports whether userID holds admin privilege
func (s *SQLiteStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM admins WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying admin: %w", err)
	}
	return true, nil
}

// ListAdmins returns admins ordered by when they were granted
func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]*Admin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, added_by, created_at FROM admins ORDER BY created_at ASC, user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying admins: %w", err)
	}
	defer rows.Close()

	var out []*Admin
	for rows.Next() {
		var (
			a         Admin
			createdAt string
		)
		if err := rows.Scan(&a.UserID, &a.AddedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning admin: %w", err)
		}
		a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
