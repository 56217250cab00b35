// ABOUTME: In-memory Session and Dialer implementations for testing
// ABOUTME: Results are scripted per operation and every call is recorded

package assistant

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Operation names used by MockSession scripts and call records.
const (
	OpProbe = "probe"
	OpJoin  = "join"
	OpLeave = "leave"
	OpSend  = "send"
)

// Call is one recorded MockSession invocation.
type Call struct {
	Op   string
	Ref  string
	Body string
	At   time.Time
}

// MockSession is a scriptable Session for tests.
type MockSession struct {
	ident Identity

	mu     sync.Mutex
	script map[string][]Result
	calls  []Call
	closed bool

	// OnProbe, when set, replaces scripted probe results.
	OnProbe func(ctx context.Context) Result

	// CloseErr is returned by Close.
	CloseErr error
}

// NewMockSession creates a session reporting the given identity.
func NewMockSession(id int64, handle string) *MockSession {
	return &MockSession{
		ident:  Identity{ID: id, Handle: handle},
		script: make(map[string][]Result),
	}
}

// Script queues results for op. Once the queue is drained the last result repeats;
// an op with no script returns OK.
func (m *MockSession) Script(op string, results ...Result) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script[op] = append(m.script[op], results...)
	return m
}

func (m *MockSession) next(op, ref, body string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: op, Ref: ref, Body: body, At: time.Now()})

	q := m.script[op]
	switch len(q) {
	case 0:
		return OK()
	case 1:
		return q[0]
	default:
		m.script[op] = q[1:]
		return q[0]
	}
}

// Calls returns a copy of the recorded calls.
func (m *MockSession) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many times op was invoked.
func (m *MockSession) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (m *MockSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockSession) Identity() Identity { return m.ident }

func (m *MockSession) Probe(ctx context.Context) Result {
	if m.OnProbe != nil {
		m.mu.Lock()
		m.calls = append(m.calls, Call{Op: OpProbe, At: time.Now()})
		m.mu.Unlock()
		return m.OnProbe(ctx)
	}
	return m.next(OpProbe, "", "")
}

func (m *MockSession) JoinChat(ctx context.Context, ref string) Result {
	return m.next(OpJoin, ref, "")
}

func (m *MockSession) LeaveChat(ctx context.Context, ref string) Result {
	return m.next(OpLeave, ref, "")
}

func (m *MockSession) SendMessage(ctx context.Context, ref, body string) Result {
	return m.next(OpSend, ref, body)
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

// ErrMockConnect is returned by MockDialer for unknown session strings.
var ErrMockConnect = errors.New("mock connect refused")

// MockDialer hands out pre-registered MockSessions keyed by Credentials.Session.
type MockDialer struct {
	mu       sync.Mutex
	sessions map[string]*MockSession
	connects int
}

// NewMockDialer creates an empty MockDialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{sessions: make(map[string]*MockSession)}
}

// Add makes Connect return sess for credentials whose Session equals token.
func (d *MockDialer) Add(token string, sess *MockSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[token] = sess
}

// Connect returns the registered session or ErrMockConnect.
func (d *MockDialer) Connect(ctx context.Context, creds Credentials) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++

	sess, ok := d.sessions[creds.Session]
	if !ok {
		return nil, ErrMockConnect
	}
	return sess, nil
}

// Connects returns how many times Connect was called.
func (d *MockDialer) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

var (
	_ Session = (*MockSession)(nil)
	_ Dialer  = (*MockDialer)(nil)
)
