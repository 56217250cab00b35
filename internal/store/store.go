// ABOUTME: DocumentStore interface and record types for assistant-manager persistence
// ABOUTME: Defines Assistant, Admin and LogRecord plus the sentinel errors backends return

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity whose key already exists
var ErrDuplicate = errors.New("already exists")

// Health values persisted for an assistant record
const (
	HealthOnline      = "ONLINE"
	HealthRateLimited = "RATE_LIMITED"
	HealthOffline     = "OFFLINE"
	HealthUnknown     = "UNKNOWN"
)

// Assistant is the durable record of one managed assistant account.
// Credentials are opaque bytes; the registry seals them before they reach the store.
type Assistant struct {
	ID            int64
	Handle        string
	Credentials   []byte
	Health        string
	AddedBy       int64
	CreatedAt     time.Time
	LastCheckedAt *time.Time
}

// Admin is an operator granted admin privilege by the owner.
// The owner itself is implicit and never stored.
type Admin struct {
	UserID    int64
	AddedBy   int64
	CreatedAt time.Time
}

// LogRecord is an immutable audit entry
type LogRecord struct {
	ID          string         // UUID v4
	Kind        string         // e.g. "assistant.add", "bulk.join"
	Description string         // human-readable summary
	ActorID     int64          // operator who performed the action, 0 for the system
	Detail      map[string]any // additional context
	CreatedAt   time.Time
}

// DocumentStore persists assistants, admins and audit logs.
// Implementations must be safe for concurrent use.
type DocumentStore interface {
	// CreateAssistant inserts a new record. Returns ErrDuplicate if the id exists.
	CreateAssistant(ctx context.Context, a *Assistant) error

	// GetAssistant returns the record for id or ErrNotFound.
	GetAssistant(ctx context.Context, id int64) (*Assistant, error)

	// ListAssistants returns every record in insertion order.
	ListAssistants(ctx context.Context) ([]*Assistant, error)

	// UpdateAssistantHealth sets health and last-checked time on an existing record.
	// Returns ErrNotFound rather than creating a record.
	UpdateAssistantHealth(ctx context.Context, id int64, health string, checkedAt time.Time) error

	// DeleteAssistant removes the record for id or returns ErrNotFound.
	DeleteAssistant(ctx context.Context, id int64) error

	AddAdmin(ctx context.Context, a *Admin) error
	RemoveAdmin(ctx context.Context, userID int64) error
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	ListAdmins(ctx context.Context) ([]*Admin, error)

	// AppendLog appends an audit entry, generating ID and CreatedAt when unset.
	AppendLog(ctx context.Context, r *LogRecord) error

	// ListLogs returns up to limit entries, newest first.
	ListLogs(ctx context.Context, limit int) ([]*LogRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// IsKnownHealth reports whether h is one of the persisted health values.
func IsKnownHealth(h string) bool {
	switch h {
	case HealthOnline, HealthRateLimited, HealthOffline, HealthUnknown:
		return true
	}
	return false
}
