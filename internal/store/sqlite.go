// ABOUTME: SQLite implementation of the DocumentStore interface using modernc.org/sqlite
// ABOUTME: Persists assistants, admins and audit logs with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements DocumentStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS assistants (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              INTEGER NOT NULL UNIQUE,
			handle          TEXT NOT NULL,
			credentials     BLOB NOT NULL,
			health          TEXT NOT NULL,
			added_by        INTEGER NOT NULL,
			created_at      TEXT NOT NULL,
			last_checked_at TEXT,

			CHECK (health IN ('ONLINE', 'RATE_LIMITED', 'OFFLINE', 'UNKNOWN'))
		);

		CREATE TABLE IF NOT EXISTS admins (
			user_id    INTEGER PRIMARY KEY,
			added_by   INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS logs (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			kind        TEXT NOT NULL,
			description TEXT NOT NULL,
			actor_id    INTEGER NOT NULL,
			detail_json TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_logs_actor ON logs(actor_id);
		CREATE INDEX IF NOT EXISTS idx_logs_kind ON logs(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAssistant inserts a new assistant record
func (s *SQLiteStore) CreateAssistant(ctx context.Context, a *Assistant) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Health == "" {
		a.Health = HealthUnknown
	}

	query := `
		INSERT INTO assistants (id, handle, credentials, health, added_by, created_at, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.Handle,
		a.Credentials,
		a.Health,
		a.AddedBy,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
		formatOptionalTime(a.LastCheckedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting assistant: %w", err)
	}

	s.logger.Debug("created assistant", "id", a.ID, "handle", a.Handle)
	return nil
}

// GetAssistant retrieves an assistant record by id
func (s *SQLiteStore) GetAssistant(ctx context.Context, id int64) (*Assistant, error) {
	query := `
		SELECT id, handle, credentials, health, added_by, created_at, last_checked_at
		FROM assistants
		WHERE id = ?
	`

	a, err := scanAssistant(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assistant: %w", err)
	}
	return a, nil
}

// ListAssistants returns every assistant in insertion order
func (s *SQLiteStore) ListAssistants(ctx context.Context) ([]*Assistant, error) {
	query := `
		SELECT id, handle, credentials, health, added_by, created_at, last_checked_at
		FROM assistants
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying assistants: %w", err)
	}
	defer rows.Close()

	var out []*Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning assistant: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assistants: %w", err)
	}
	return out, nil
}

// UpdateAssistantHealth records a probe outcome on an existing assistant
func (s *SQLiteStore) UpdateAssistantHealth(ctx context.Context, id int64, health string, checkedAt time.Time) error {
	if !IsKnownHealth(health) {
		return fmt.Errorf("unknown health state %q", health)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE assistants SET health = ?, last_checked_at = ? WHERE id = ?`,
		health, checkedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("updating assistant health: %w", err)
	}

	return requireAffected(result)
}

// DeleteAssistant removes an assistant record
func (s *SQLiteStore) DeleteAssistant(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM assistants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting assistant: %w", err)
	}

	if err := requireAffected(result); err != nil {
		return err
	}

	s.logger.Debug("deleted assistant", "id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssistant(row rowScanner) (*Assistant, error) {
	var (
		a           Assistant
		createdAt   string
		lastChecked sql.NullString
	)

	if err := row.Scan(&a.ID, &a.Handle, &a.Credentials, &a.Health, &a.AddedBy, &createdAt, &lastChecked); err != nil {
		return nil, err
	}

	var err error
	a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if lastChecked.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastChecked.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_checked_at: %w", err)
		}
		a.LastCheckedAt = &t
	}

	return &a, nil
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Compile-time check that SQLiteStore implements DocumentStore
var _ DocumentStore = (*SQLiteStore)(nil)
