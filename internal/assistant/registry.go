// ABOUTME: Registry of managed assistants: live sessions in memory, records in the DocumentStore
// ABOUTME: Handles add/remove/health updates with per-assistant mutual exclusion

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/secrets"
	"github.com/2389/assistant-manager/internal/store"
)

var (
	// ErrConnectFailed indicates the remote session could not be established.
	ErrConnectFailed = errors.New("could not connect assistant")

	// ErrDuplicate indicates an assistant with the same id is already registered.
	ErrDuplicate = errors.New("assistant already registered")

	// ErrNotFound indicates the assistant does not exist.
	ErrNotFound = errors.New("assistant not found")

	// ErrForbidden indicates the requestor may not modify this assistant.
	ErrForbidden = errors.New("only the owner or the admin who added this assistant can remove it")

	// ErrStorageUnavailable indicates the DocumentStore could not serve the request.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Assistant is a read-only view of a managed assistant.
type Assistant struct {
	ID            int64
	Handle        string
	Health        HealthState
	AddedBy       int64
	CreatedAt     time.Time
	LastCheckedAt *time.Time
	Live          bool
}

// Live is a connected assistant as handed to probes and bulk operations.
type Live struct {
	ID      int64
	Handle  string
	Session Session
}

type entry struct {
	mu      sync.Mutex
	id      int64
	handle  string
	session Session
	removed bool
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	OwnerID int64
	Dialer  Dialer
	Store   store.DocumentStore
	Box     *secrets.Box
	Audit   *audit.Log
	Logger  *slog.Logger
}

// Registry owns the live sessions. The DocumentStore owns durable records.
type Registry struct {
	ownerID int64
	dialer  Dialer
	store   store.DocumentStore
	box     *secrets.Box
	audit   *audit.Log
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[int64]*entry
	order   []int64
	pending map[int64]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	box := cfg.Box
	if box == nil {
		box, _ = secrets.NewBox(nil)
	}
	return &Registry{
		ownerID: cfg.OwnerID,
		dialer:  cfg.Dialer,
		store:   cfg.Store,
		box:     box,
		audit:   cfg.Audit,
		logger:  logger.With("component", "registry"),
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[int64]*entry),
		pending: make(map[int64]struct{}),
	}
}

// AddAssistant connects with creds, registers the session under its own
// identity and persists it as ONLINE. Nothing is registered or persisted on failure.
func (r *Registry) AddAssistant(ctx context.Context, creds Credentials, addedBy int64) (*Assistant, error) {
	sess, err := r.dialer.Connect(ctx, creds)
	if err != nil {
		r.logger.Warn("connect failed", "added_by", addedBy, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	ident := sess.Identity()
	if ident.ID <= 0 {
		r.closeSession(sess, ident.ID)
		return nil, fmt.Errorf("%w: session reported no identity", ErrConnectFailed)
	}

	if err := r.reserve(ident.ID); err != nil {
		r.closeSession(sess, ident.ID)
		return nil, err
	}

	rec, err := r.persistNew(ctx, ident, creds, addedBy)
	if err != nil {
		r.release(ident.ID)
		r.closeSession(sess, ident.ID)
		return nil, err
	}

	r.mu.Lock()
	delete(r.pending, ident.ID)
	r.entries[ident.ID] = &entry{id: ident.ID, handle: ident.Handle, session: sess}
	r.order = append(r.order, ident.ID)
	total := len(r.entries)
	r.mu.Unlock()

	r.logger.Info("=== ASSISTANT ADDED ===",
		"assistant_id", ident.ID,
		"handle", ident.Handle,
		"added_by", addedBy,
		"total_live", total,
	)

	r.record(ctx, audit.KindAssistantAdd, addedBy, ident.ID, fmt.Sprintf("added assistant %s (%d)", ident.Handle, ident.ID))

	a := toAssistant(rec)
	a.Live = true
	return a, nil
}

// reserve marks id as being added so concurrent adds of the same account collide.
func (r *Registry) reserve(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return ErrDuplicate
	}
	if _, ok := r.pending[id]; ok {
		return ErrDuplicate
	}
	r.pending[id] = struct{}{}
	return nil
}

func (r *Registry) release(id int64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *Registry) persistNew(ctx context.Context, ident Identity, creds Credentials, addedBy int64) (*store.Assistant, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encoding credentials: %w", err)
	}
	sealed, err := r.box.Seal(raw, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("sealing credentials: %w", err)
	}

	now := r.now()
	rec := &store.Assistant{
		ID:            ident.ID,
		Handle:        ident.Handle,
		Credentials:   sealed,
		Health:        string(HealthOnline),
		AddedBy:       addedBy,
		CreatedAt:     now,
		LastCheckedAt: &now,
	}

	err = r.store.CreateAssistant(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrDuplicate
	}
	if err != nil {
		r.logger.Error("persisting assistant failed", "assistant_id", ident.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return rec, nil
}

// RemoveAssistant deletes the assistant. Only the owner or the original adder may do so.
// The id stops being live before the record is deleted; if the delete fails the
// live entry is restored.
func (r *Registry) RemoveAssistant(ctx context.Context, id, requestor int64) error {
	rec, err := r.store.GetAssistant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if requestor != r.ownerID && requestor != rec.AddedBy {
		return ErrForbidden
	}

	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()

	if e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.removed {
			return ErrNotFound
		}
	}

	pos := r.detach(id)

	if err := r.store.DeleteAssistant(ctx, id); err != nil {
		if e != nil {
			r.reattach(e, pos)
		}
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		r.logger.Error("deleting assistant failed, restored live entry", "assistant_id", id, "error", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if e != nil {
		e.removed = true
		r.closeSession(e.session, id)
	}

	r.logger.Info("=== ASSISTANT REMOVED ===", "assistant_id", id, "handle", rec.Handle, "by", requestor)
	r.record(ctx, audit.KindAssistantRemove, requestor, id, fmt.Sprintf("removed assistant %s (%d)", rec.Handle, id))
	return nil
}

// detach removes id from the live set and returns its former position, or -1.
func (r *Registry) detach(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return -1
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return i
		}
	}
	return -1
}

func (r *Registry) reattach(e *entry, pos int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[e.id] = e
	if pos < 0 || pos > len(r.order) {
		pos = len(r.order)
	}
	r.order = append(r.order, 0)
	copy(r.order[pos+1:], r.order[pos:])
	r.order[pos] = e.id
}

// SetHealth persists a probe outcome for a live assistant.
// Returns ErrNotFound if the assistant was removed; a removed entry is never re-created.
func (r *Registry) SetHealth(ctx context.Context, id int64, state HealthState) error {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrNotFound
	}

	err := r.store.UpdateAssistantHealth(ctx, id, string(state), r.now())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// List returns every persisted assistant in insertion order.
func (r *Registry) List(ctx context.Context) ([]*Assistant, error) {
	recs, err := r.store.ListAssistants(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Assistant, 0, len(recs))
	for _, rec := range recs {
		a := toAssistant(rec)
		_, a.Live = r.entries[rec.ID]
		out = append(out, a)
	}
	return out, nil
}

// Get returns one persisted assistant.
func (r *Registry) Get(ctx context.Context, id int64) (*Assistant, error) {
	rec, err := r.store.GetAssistant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	a := toAssistant(rec)
	r.mu.RLock()
	_, a.Live = r.entries[id]
	r.mu.RUnlock()
	return a, nil
}

// Snapshot returns the live assistants in registry order.
func (r *Registry) Snapshot() []Live {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Live, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, Live{ID: e.id, Handle: e.handle, Session: e.session})
	}
	return out
}

// Lookup returns the live assistant with id, if any.
func (r *Registry) Lookup(id int64) (Live, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Live{}, false
	}
	return Live{ID: e.id, Handle: e.handle, Session: e.session}, true
}

// LiveCount returns the number of live assistants.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// CanRemove reports whether requestor may remove an assistant added by addedBy.
func (r *Registry) CanRemove(requestor, addedBy int64) bool {
	return requestor == r.ownerID || requestor == addedBy
}

// Load reconnects every persisted assistant in insertion order. Assistants that
// fail to reconnect stay persisted and are marked OFFLINE. Only a store read
// failure is returned.
func (r *Registry) Load(ctx context.Context) (int, error) {
	recs, err := r.store.ListAssistants(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	loaded := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			return loaded, ctx.Err()
		}
		if err := r.loadOne(ctx, rec); err != nil {
			r.logger.Warn("assistant did not reconnect", "assistant_id", rec.ID, "handle", rec.Handle, "error", err)
			if uerr := r.store.UpdateAssistantHealth(ctx, rec.ID, string(HealthOffline), r.now()); uerr != nil {
				r.logger.Error("marking assistant offline failed", "assistant_id", rec.ID, "error", uerr)
			}
			continue
		}
		loaded++
	}

	r.logger.Info("assistants loaded", "live", loaded, "persisted", len(recs))
	return loaded, nil
}

func (r *Registry) loadOne(ctx context.Context, rec *store.Assistant) error {
	raw, err := r.box.Open(rec.Credentials, rec.ID)
	if err != nil {
		return err
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return fmt.Errorf("decoding credentials: %w", err)
	}

	sess, err := r.dialer.Connect(ctx, creds)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	ident := sess.Identity()
	if ident.ID != rec.ID {
		r.closeSession(sess, rec.ID)
		return fmt.Errorf("session identity %d does not match record %d", ident.ID, rec.ID)
	}

	r.mu.Lock()
	if _, ok := r.entries[rec.ID]; ok {
		r.mu.Unlock()
		r.closeSession(sess, rec.ID)
		return ErrDuplicate
	}
	r.entries[rec.ID] = &entry{id: rec.ID, handle: rec.Handle, session: sess}
	r.order = append(r.order, rec.ID)
	r.mu.Unlock()

	return nil
}

// Close closes every live session. The registry is empty afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	order := r.order
	r.entries = make(map[int64]*entry)
	r.order = nil
	r.mu.Unlock()

	for _, id := range order {
		r.closeSession(entries[id].session, id)
	}
}

func (r *Registry) closeSession(sess Session, id int64) {
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		r.logger.Warn("closing session failed", "assistant_id", id, "error", err)
	}
}

func (r *Registry) record(ctx context.Context, kind audit.Kind, actor, assistantID int64, desc string) {
	if r.audit == nil {
		return
	}
	r.audit.Append(ctx, audit.Record{
		Kind:        kind,
		Description: desc,
		ActorID:     actor,
		Detail:      map[string]any{"assistant_id": strconv.FormatInt(assistantID, 10)},
	})
}

func toAssistant(rec *store.Assistant) *Assistant {
	return &Assistant{
		ID:            rec.ID,
		Handle:        rec.Handle,
		Health:        HealthState(rec.Health),
		AddedBy:       rec.AddedBy,
		CreatedAt:     rec.CreatedAt,
		LastCheckedAt: rec.LastCheckedAt,
	}
}
