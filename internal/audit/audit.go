// ABOUTME: Append-only audit log for administrative actions
// ABOUTME: Persists every record to the DocumentStore and mirrors it to notification sinks

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/assistant-manager/internal/store"
)

// Kind identifies what an audit record describes.
type Kind string

const (
	KindAssistantAdd    Kind = "assistant.add"
	KindAssistantRemove Kind = "assistant.remove"
	KindAssistantLoad   Kind = "assistant.load"
	KindBulkJoin        Kind = "bulk.join"
	KindBulkLeave       Kind = "bulk.leave"
	KindBulkBroadcast   Kind = "bulk.broadcast"
	KindAdminAdd        Kind = "admin.add"
	KindAdminRemove     Kind = "admin.remove"
	KindMenuOpen        Kind = "menu.open"
)

// sinkTimeout bounds how long one sink may hold up Append.
const sinkTimeout = 5 * time.Second

// Record is an immutable audit entry.
type Record struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Description string         `json:"description"`
	ActorID     int64          `json:"actor_id"`
	Detail      map[string]any `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Sink receives a copy of every appended record.
type Sink interface {
	Publish(ctx context.Context, r Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, r Record) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, r Record) error {
	return f(ctx, r)
}

// Log appends records to the store and fans them out to sinks.
// Append never fails its caller: store and sink errors are logged.
type Log struct {
	store  store.DocumentStore
	logger *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// New creates a Log backed by s.
func New(s store.DocumentStore, logger *slog.Logger, sinks ...Sink) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:  s,
		logger: logger.With("component", "audit"),
		sinks:  sinks,
	}
}

// AddSink registers a sink after construction, e.g. once a chat client is connected.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Append records r. ID and CreatedAt are filled when empty.
func (l *Log) Append(ctx context.Context, r Record) Record {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	// Records still land when the caller's flow was cancelled mid-way.
	ctx = context.WithoutCancel(ctx)

	rec := &store.LogRecord{
		ID:          r.ID,
		Kind:        string(r.Kind),
		Description: r.Description,
		ActorID:     r.ActorID,
		Detail:      r.Detail,
		CreatedAt:   r.CreatedAt,
	}
	if err := l.store.AppendLog(ctx, rec); err != nil {
		l.logger.Error("failed to persist audit record", "kind", r.Kind, "actor", r.ActorID, "error", err)
	}

	l.mu.RLock()
	sinks := append([]Sink(nil), l.sinks...)
	l.mu.RUnlock()

	for _, s := range sinks {
		l.publish(ctx, s, r)
	}

	l.logger.Info("audit", "kind", r.Kind, "actor", r.ActorID, "description", r.Description)
	return r
}

func (l *Log) publish(ctx context.Context, s Sink, r Record) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("audit sink panicked", "kind", r.Kind, "panic", p)
		}
	}()

	if err := s.Publish(ctx, r); err != nil {
		l.logger.Warn("audit sink failed", "kind", r.Kind, "error", err)
	}
}

// Recent returns up to limit records, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := l.store.ListLogs(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			ID:          row.ID,
			Kind:        Kind(row.Kind),
			Description: row.Description,
			ActorID:     row.ActorID,
			Detail:      row.Detail,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}
