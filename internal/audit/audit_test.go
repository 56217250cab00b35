package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-manager/internal/store"
)

type captureSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (c *captureSink) Publish(ctx context.Context, r Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return c.err
}

func TestLog_AppendPersistsAndFansOut(t *testing.T) {
	s := store.NewMockStore()
	sink := &captureSink{}
	l := New(s, nil, sink)
	ctx := context.Background()

	r := l.Append(ctx, Record{Kind: KindBulkJoin, Description: "joined", ActorID: 7, Detail: map[string]any{"count": 3}})
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	logs, err := s.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "bulk.join", logs[0].Kind)
	assert.Equal(t, int64(7), logs[0].ActorID)

	require.Len(t, sink.records, 1)
	assert.Equal(t, r.ID, sink.records[0].ID)
}

func TestLog_AppendSurvivesStoreAndSinkFailures(t *testing.T) {
	s := store.NewMockStore()
	s.SetFail("AppendLog", true)

	failing := &captureSink{err: errors.New("sink down")}
	panicking := SinkFunc(func(ctx context.Context, r Record) error { panic("boom") })
	after := &captureSink{}

	l := New(s, nil, failing, panicking, after)

	assert.NotPanics(t, func() {
		l.Append(context.Background(), Record{Kind: KindAdminAdd, Description: "x"})
	})
	assert.Len(t, failing.records, 1)
	assert.Len(t, after.records, 1, "a panicking sink must not stop later sinks")
}

func TestLog_AppendAfterCancel(t *testing.T) {
	s := store.NewMockStore()
	l := New(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Append(ctx, Record{Kind: KindBulkLeave, Description: "cancelled batch"})

	logs, err := s.ListLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestLog_Recent(t *testing.T) {
	s := store.NewMockStore()
	l := New(s, nil)
	l.AddSink(SinkFunc(func(ctx context.Context, r Record) error { return nil }))
	ctx := context.Background()

	l.Append(ctx, Record{Kind: KindAdminAdd, Description: "one"})
	l.Append(ctx, Record{Kind: KindAdminRemove, Description: "two"})

	recent, err := l.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, KindAdminRemove, recent[0].Kind)
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisSink_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := &RedisSink{client: pub, channel: "audit"}

	err := sink.Publish(context.Background(), Record{ID: "abc", Kind: KindAssistantAdd, ActorID: 1})
	require.NoError(t, err)
	assert.Equal(t, "audit", pub.channel)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, "assistant.add", got["kind"])
	assert.NoError(t, sink.Close())
}

func TestRedisSink_PublishError(t *testing.T) {
	sink := &RedisSink{client: &fakePublisher{err: errors.New("down")}, channel: "audit"}
	assert.Error(t, sink.Publish(context.Background(), Record{}))
}
