package bulk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/store"
)

type fleet struct {
	reg      *assistant.Registry
	store    *store.MockStore
	sessions []*assistant.MockSession
}

func newFleet(t *testing.T, n int) *fleet {
	t.Helper()
	s := store.NewMockStore()
	d := assistant.NewMockDialer()
	reg := assistant.NewRegistry(assistant.RegistryConfig{OwnerID: 1, Dialer: d, Store: s})

	f := &fleet{reg: reg, store: s}
	for i := 1; i <= n; i++ {
		token := "tok" + string(rune('0'+i))
		sess := assistant.NewMockSession(int64(100+i), "@a"+token+":example.org")
		d.Add(token, sess)
		_, err := reg.AddAssistant(context.Background(), assistant.Credentials{Session: token}, 1)
		require.NoError(t, err)
		f.sessions = append(f.sessions, sess)
	}
	return f
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func newExecutor(f *fleet, minDelay time.Duration) (*Executor, *sleepRecorder) {
	rec := &sleepRecorder{}
	ex := NewExecutor(f.reg, audit.New(f.store, nil), minDelay, nil)
	ex.SetSleep(rec.sleep)
	return ex, rec
}

func ids(f *fleet, n int) []int64 {
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = f.sessions[i].Identity().ID
	}
	return out
}

func TestExecute_JoinFirstThreeOfFive(t *testing.T) {
	f := newFleet(t, 5)
	ex, rec := newExecutor(f, 3*time.Second)
	ctx := context.Background()

	selected, err := First(f.reg.Snapshot(), 3)
	require.NoError(t, err)

	sum, err := ex.Execute(ctx, Operation{
		Kind:         KindJoin,
		Target:       "#example:example.org",
		AssistantIDs: selected,
		Delay:        5 * time.Second,
		ActorID:      1,
	})
	require.NoError(t, err)

	require.Len(t, sum.Attempts, 3)
	for i, att := range sum.Attempts {
		assert.Equal(t, f.sessions[i].Identity().ID, att.AssistantID, "registry order")
		assert.Equal(t, StatusOK, att.Status)
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, f.sessions[i].CallCount(assistant.OpJoin))
		assert.Equal(t, "#example:example.org", f.sessions[i].Calls()[0].Ref)
	}
	assert.Equal(t, 0, f.sessions[3].CallCount(assistant.OpJoin))
	assert.Equal(t, 0, f.sessions[4].CallCount(assistant.OpJoin))

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, rec.sleeps, "delay between attempts, no pacing after a successful last step")

	logs, err := f.store.ListLogs(ctx, 10)
	require.NoError(t, err)
	var bulkLogs []*store.LogRecord
	for _, l := range logs {
		if l.Kind == string(audit.KindBulkJoin) {
			bulkLogs = append(bulkLogs, l)
		}
	}
	require.Len(t, bulkLogs, 1)
	assert.Equal(t, 3, bulkLogs[0].Detail["count"])
	assert.Equal(t, 5, bulkLogs[0].Detail["delay_seconds"])
	assert.Equal(t, "#example:example.org", bulkLogs[0].Detail["target"])
	assert.Equal(t, int64(1), bulkLogs[0].ActorID)
}

func TestExecute_DelayFlooredToMinimum(t *testing.T) {
	f := newFleet(t, 2)
	ex, rec := newExecutor(f, 3*time.Second)

	sum, err := ex.Execute(context.Background(), Operation{Kind: KindLeave, Target: "!room:example.org", AssistantIDs: ids(f, 2), Delay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, sum.Delay)
	assert.Equal(t, []time.Duration{3 * time.Second}, rec.sleeps)
}

func TestExecute_FailureDoesNotStopBatch(t *testing.T) {
	f := newFleet(t, 6)
	f.sessions[2].Script(assistant.OpJoin, assistant.Failed(errors.New("banned from chat")))
	ex, _ := newExecutor(f, time.Second)

	sum, err := ex.Execute(context.Background(), Operation{Kind: KindJoin, Target: "chat", AssistantIDs: ids(f, 6)})
	require.NoError(t, err)

	require.Len(t, sum.Attempts, 6)
	assert.Equal(t, StatusFailed, sum.Attempts[2].Status)
	assert.Equal(t, "banned from chat", sum.Attempts[2].Err)
	for i := 3; i < 6; i++ {
		assert.Equal(t, 1, f.sessions[i].CallCount(assistant.OpJoin), "assistant %d attempted after failure", i+1)
	}
	assert.Equal(t, 5, sum.Count(StatusOK))
	assert.Equal(t, 1, sum.Count(StatusFailed))
}

func TestExecute_RateLimitWaitReplacesDelay(t *testing.T) {
	f := newFleet(t, 3)
	f.sessions[1].Script(assistant.OpSend, assistant.RateLimited(42*time.Second))
	ex, rec := newExecutor(f, 3*time.Second)

	sum, err := ex.Execute(context.Background(), Operation{
		Kind:         KindBroadcast,
		Target:       "#lobby:example.org",
		AssistantIDs: ids(f, 3),
		Message:      "hello",
		Delay:        10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{10 * time.Second, 42 * time.Second}, rec.sleeps)
	assert.Equal(t, StatusRateLimited, sum.Attempts[1].Status)
	assert.Equal(t, 42*time.Second, sum.Attempts[1].Wait)
	assert.Equal(t, 1, f.sessions[1].CallCount(assistant.OpSend), "rate-limited attempt is not retried")
	assert.Equal(t, 1, f.sessions[2].CallCount(assistant.OpSend), "batch continues after rate limit")
	assert.Equal(t, "hello", f.sessions[2].Calls()[0].Body)
}

func TestExecute_RateLimitOnLastStepIsWaited(t *testing.T) {
	f := newFleet(t, 2)
	f.sessions[1].Script(assistant.OpSend, assistant.RateLimited(30*time.Second))
	ex, rec := newExecutor(f, time.Second)

	sum, err := ex.Execute(context.Background(), Operation{
		Kind:         KindBroadcast,
		Target:       "#lobby:example.org",
		AssistantIDs: ids(f, 2),
		Message:      "hello",
		Delay:        5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second}, rec.sleeps)
	assert.Equal(t, StatusRateLimited, sum.Attempts[1].Status)
	assert.False(t, sum.Cancelled)
}

func TestExecute_CancelDuringFinalCooldownKeepsBatchComplete(t *testing.T) {
	f := newFleet(t, 1)
	f.sessions[0].Script(assistant.OpJoin, assistant.RateLimited(time.Minute))
	ex := NewExecutor(f.reg, audit.New(f.store, nil), time.Second, nil)
	ex.SetSleep(func(ctx context.Context, d time.Duration) error { return context.Canceled })

	sum, err := ex.Execute(context.Background(), Operation{Kind: KindJoin, Target: "#lobby:example.org", AssistantIDs: ids(f, 1)})
	require.NoError(t, err)
	require.Len(t, sum.Attempts, 1)
	assert.False(t, sum.Cancelled, "every assistant was attempted")
}

func TestExecute_SkipsAssistantsNoLongerLive(t *testing.T) {
	f := newFleet(t, 3)
	ex, rec := newExecutor(f, time.Second)
	selected := ids(f, 3)

	require.NoError(t, f.reg.RemoveAssistant(context.Background(), selected[1], 1))

	sum, err := ex.Execute(context.Background(), Operation{Kind: KindBroadcast, Target: "room", AssistantIDs: selected, Message: "hi"})
	require.NoError(t, err)

	require.Len(t, sum.Attempts, 3)
	assert.Equal(t, StatusSkipped, sum.Attempts[1].Status)
	assert.Equal(t, 2, sum.Count(StatusOK))
	assert.Equal(t, []time.Duration{time.Second}, rec.sleeps, "no delay for skipped assistants")
}

func TestExecute_CancelStopsBatchButAudits(t *testing.T) {
	f := newFleet(t, 4)
	ex := NewExecutor(f.reg, audit.New(f.store, nil), time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ex.SetSleep(func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	})

	sum, err := ex.Execute(ctx, Operation{Kind: KindJoin, Target: "chat", AssistantIDs: ids(f, 4)})
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Len(t, sum.Attempts, 2)
	assert.Equal(t, 0, f.sessions[2].CallCount(assistant.OpJoin))

	logs, err := f.store.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, string(audit.KindBulkJoin), logs[0].Kind)
	assert.Equal(t, true, logs[0].Detail["cancelled"])
}

func TestExecute_PanickingSessionIsFolded(t *testing.T) {
	f := newFleet(t, 2)
	ex, _ := newExecutor(f, time.Second)

	boom := &panicSession{MockSession: f.sessions[0]}
	resolver := resolverFunc(func(id int64) (assistant.Live, bool) {
		if id == boom.Identity().ID {
			return assistant.Live{ID: id, Session: boom}, true
		}
		return f.reg.Lookup(id)
	})
	ex.resolver = resolver

	sum, err := ex.Execute(context.Background(), Operation{Kind: KindLeave, Target: "chat", AssistantIDs: ids(f, 2)})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, sum.Attempts[0].Status)
	assert.Equal(t, StatusOK, sum.Attempts[1].Status)
}

func TestExecute_RealDelaySpacing(t *testing.T) {
	f := newFleet(t, 3)
	ex := NewExecutor(f.reg, nil, 20*time.Millisecond, nil)

	_, err := ex.Execute(context.Background(), Operation{Kind: KindJoin, Target: "chat", AssistantIDs: ids(f, 3)})
	require.NoError(t, err)

	var times []time.Time
	for _, s := range f.sessions {
		times = append(times, s.Calls()[0].At)
	}
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 20*time.Millisecond)
	}
}

func TestExecute_Validation(t *testing.T) {
	f := newFleet(t, 1)
	ex, _ := newExecutor(f, time.Second)
	ctx := context.Background()

	tests := []struct {
		name string
		op   Operation
	}{
		{"unknown kind", Operation{Kind: "PING", Target: "x", AssistantIDs: []int64{1}}},
		{"no target", Operation{Kind: KindJoin, AssistantIDs: []int64{1}}},
		{"no assistants", Operation{Kind: KindJoin, Target: "x"}},
		{"broadcast without message", Operation{Kind: KindBroadcast, Target: "x", AssistantIDs: []int64{1}}},
		{"negative delay", Operation{Kind: KindJoin, Target: "x", AssistantIDs: []int64{1}, Delay: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Execute(ctx, tt.op)
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
	assert.Equal(t, 0, f.sessions[0].CallCount(assistant.OpJoin))
}

func TestSummary_String(t *testing.T) {
	sum := Summary{Kind: KindJoin, Target: "chat", Attempts: []Attempt{
		{Status: StatusOK}, {Status: StatusFailed}, {Status: StatusRateLimited}, {Status: StatusSkipped},
	}}
	assert.Equal(t, "JOIN chat: 1 ok, 1 rate limited, 1 failed, 1 skipped", sum.String())
}

type panicSession struct {
	*assistant.MockSession
}

func (p *panicSession) LeaveChat(ctx context.Context, ref string) assistant.Result {
	panic("nil pointer in transport")
}

type resolverFunc func(id int64) (assistant.Live, bool)

func (f resolverFunc) Lookup(id int64) (assistant.Live, bool) { return f(id) }
