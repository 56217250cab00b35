// ABOUTME: Mock DocumentStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMockUnavailable is the error returned by MockStore operations while Fail is set.
var ErrMockUnavailable = errors.New("mock store unavailable")

// MockStore is an in-memory DocumentStore implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	assistants map[int64]*Assistant
	order      []int64
	admins     map[int64]*Admin
	logs       []*LogRecord

	// FailOps makes the named operations return ErrMockUnavailable,
	// e.g. "DeleteAssistant" or "AppendLog".
	FailOps map[string]bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		assistants: make(map[int64]*Assistant),
		admins:     make(map[int64]*Admin),
		FailOps:    make(map[string]bool),
	}
}

// SetFail toggles injected failure for op.
func (m *MockStore) SetFail(op string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailOps[op] = fail
}

func (m *MockStore) failing(op string) bool {
	return m.FailOps[op]
}

// CreateAssistant stores a new assistant.
func (m *MockStore) CreateAssistant(ctx context.Context, a *Assistant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing("CreateAssistant") {
		return ErrMockUnavailable
	}
	if _, ok := m.assistants[a.ID]; ok {
		return ErrDuplicate
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Health == "" {
		a.Health = HealthUnknown
	}

	// Make a copy to avoid external modification
	c := copyAssistant(a)
	m.assistants[c.ID] = c
	m.order = append(m.order, c.ID)
	return nil
}

// GetAssistant retrieves an assistant by id.
func (m *MockStore) GetAssistant(ctx context.Context, id int64) (*Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing("GetAssistant") {
		return nil, ErrMockUnavailable
	}
	a, ok := m.assistants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAssistant(a), nil
}

// ListAssistants returns assistants in insertion order.
func (m *MockStore) ListAssistants(ctx context.Context) ([]*Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing("ListAssistants") {
		return nil, ErrMockUnavailable
	}
	out := make([]*Assistant, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, copyAssistant(m.assistants[id]))
	}
	return out, nil
}

// UpdateAssistantHealth updates health on an existing assistant.
func (m *MockStore) UpdateAssistantHealth(ctx context.Context, id int64, health string, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing("UpdateAssistantHealth") {
		return ErrMockUnavailable
	}
	a, ok := m.assistants[id]
	if !ok {
		return ErrNotFound
	}
	a.Health = health
	t := checkedAt
	a.LastCheckedAt = &t
	return nil
}

// DeleteAssistant removes an assistant.
func (m *MockStore) DeleteAssistant(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing("DeleteAssistant") {
		return ErrMockUnavailable
	}
	if _, ok := m.assistants[id]; !ok {
		return ErrNotFound
	}
	delete(m.assistants, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// AddAdmin grants admin privilege.
func (m *MockStore) AddAdmin(ctx context.Context, a *Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing("AddAdmin") {
		return ErrMockUnavailable
	}
	if _, ok := m.admins[a.UserID]; ok {
		return ErrDuplicate
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	c := *a
	m.admins[c.UserID] = &c
	return nil
}

// RemoveAdmin revokes admin privilege.
func (m *MockStore) RemoveAdmin(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing("RemoveAdmin") {
		return ErrMockUnavailable
	}
	if _, ok := m.admins[userID]; !ok {
		return ErrNotFound
	}
	delete(m.admins, userID)
	return nil
}

// IsAdmin reports whether userID is an admin.
func (m *MockStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing("IsAdmin") {
		return false, ErrMockUnavailable
	}
	_, ok := m.admins[userID]
	return ok, nil
}

// ListAdmins returns admins ordered by grant time.
func (m *MockStore) ListAdmins(ctx context.Context) ([]*Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing("ListAdmins") {
		return nil, ErrMockUnavailable
	}
	out := make([]*Admin, 0, len(m.admins))
	for _, a := range m.admins {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AppendLog appends an audit entry.
func (m *MockStore) AppendLog(ctx context.Context, r *LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing("AppendLog") {
		return ErrMockUnavailable
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	c := *r
	m.logs = append(m.logs, &c)
	return nil
}

// ListLogs returns up to limit entries, newest first.
func (m *MockStore) ListLogs(ctx context.Context, limit int) ([]*LogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing("ListLogs") {
		return nil, ErrMockUnavailable
	}
	limit = normalizeLimit(limit)
	out := make([]*LogRecord, 0, limit)
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		c := *m.logs[i]
		out = append(out, &c)
	}
	return out, nil
}

// Ping reports injected unavailability.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing("Ping") {
		return ErrMockUnavailable
	}
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func copyAssistant(a *Assistant) *Assistant {
	c := *a
	if a.Credentials != nil {
		c.Credentials = append([]byte(nil), a.Credentials...)
	}
	if a.LastCheckedAt != nil {
		t := *a.LastCheckedAt
		c.LastCheckedAt = &t
	}
	return &c
}

// Compile-time check that MockStore implements DocumentStore
var _ DocumentStore = (*MockStore)(nil)
