package matrix

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/console"
)

type sent struct {
	room, body, html string
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []sent
	joined []string
	err    error
}

func (f *fakeMessenger) send(ctx context.Context, roomID, body, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{room: roomID, body: body, html: html})
	return nil
}

func (f *fakeMessenger) join(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return nil
}

type dispatched struct {
	operator int64
	action   console.Action
	args     []string
}

type fakeConsole struct {
	mu         sync.Mutex
	dispatched []dispatched
	inputs     []string
	busy       map[int64]bool
}

func (f *fakeConsole) Dispatch(ctx context.Context, operator int64, action console.Action, args []string) console.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, dispatched{operator, action, args})
	return console.Response{Text: "ran " + string(action)}
}

func (f *fakeConsole) Input(ctx context.Context, operator int64, text string) console.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
	return console.Response{Text: "got " + text}
}

func (f *fakeConsole) Busy(operator int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy[operator]
}

const (
	botUser = "@manager:example.org"
	opUser  = "@alice:example.org"
	room    = "!ops:example.org"
)

func newTestBot() (*Bot, *fakeMessenger, *fakeConsole) {
	out := &fakeMessenger{}
	con := &fakeConsole{busy: map[int64]bool{}}
	b := newBot(Config{
		UserID:    botUser,
		Operators: map[string]int64{opUser: 7},
	}, out, con, nil)
	b.startedAt = time.Now().Add(-time.Minute)
	return b, out, con
}

func textEvent(eventID, sender, body string) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		Sender:    id.UserID(sender),
		RoomID:    id.RoomID(room),
		Type:      event.EventMessage,
		Timestamp: time.Now().UnixMilli(),
		Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body}},
	}
}

func TestCommandIsDispatched(t *testing.T) {
	b, out, con := newTestBot()

	b.handleMessage(context.Background(), textEvent("$1", opUser, "!remove_assistant 42"))

	require.Len(t, con.dispatched, 1)
	assert.Equal(t, dispatched{7, console.ActionRemoveAssistant, []string{"42"}}, con.dispatched[0])
	require.Len(t, out.sent, 1)
	assert.Equal(t, room, out.sent[0].room)
	assert.Equal(t, "ran remove_assistant", out.sent[0].body)
}

func TestRedeliveredEventIsDropped(t *testing.T) {
	b, out, con := newTestBot()
	evt := textEvent("$1", opUser, "!start")

	b.handleMessage(context.Background(), evt)
	b.handleMessage(context.Background(), evt)

	assert.Len(t, con.dispatched, 1)
	assert.Len(t, out.sent, 1)
}

func TestEventsBeforeStartAreIgnored(t *testing.T) {
	b, out, _ := newTestBot()
	evt := textEvent("$old", opUser, "!start")
	evt.Timestamp = b.startedAt.Add(-time.Hour).UnixMilli()

	b.handleMessage(context.Background(), evt)
	assert.Empty(t, out.sent)
}

func TestOwnMessagesAreIgnored(t *testing.T) {
	b, out, _ := newTestBot()
	b.handleMessage(context.Background(), textEvent("$1", botUser, "!start"))
	assert.Empty(t, out.sent)
}

func TestUnmappedSenderGetsUnauthorized(t *testing.T) {
	b, out, con := newTestBot()

	b.handleMessage(context.Background(), textEvent("$1", "@mallory:example.org", "!start"))
	b.handleMessage(context.Background(), textEvent("$2", "@mallory:example.org", "hello"))

	assert.Empty(t, con.dispatched)
	require.Len(t, out.sent, 1)
	assert.Contains(t, out.sent[0].body, "not authorized")
}

func TestFreeTextOnlyWhenBusy(t *testing.T) {
	b, out, con := newTestBot()
	ctx := context.Background()

	b.handleMessage(ctx, textEvent("$1", opUser, "just chatting"))
	assert.Empty(t, out.sent)

	con.busy[7] = true
	b.handleMessage(ctx, textEvent("$2", opUser, "#news:example.org"))
	assert.Equal(t, []string{"#news:example.org"}, con.inputs)
	require.Len(t, out.sent, 1)
}

func TestUnknownCommand(t *testing.T) {
	b, out, con := newTestBot()
	ctx := context.Background()

	b.handleMessage(ctx, textEvent("$1", opUser, "!reboot"))
	require.Len(t, out.sent, 1)
	assert.Contains(t, out.sent[0].body, "Unknown command `reboot`")

	con.busy[7] = true
	b.handleMessage(ctx, textEvent("$2", opUser, "!important news"))
	assert.Equal(t, []string{"!important news"}, con.inputs)
}

func TestBarePrefixIsIgnored(t *testing.T) {
	b, out, _ := newTestBot()
	b.handleMessage(context.Background(), textEvent("$1", opUser, "!  "))
	assert.Empty(t, out.sent)
}

func TestNonTextMessagesAreIgnored(t *testing.T) {
	b, out, _ := newTestBot()
	evt := textEvent("$1", opUser, "!start")
	evt.Content.Parsed = &event.MessageEventContent{MsgType: event.MsgImage, Body: "!start"}

	b.handleMessage(context.Background(), evt)
	assert.Empty(t, out.sent)
}

func memberEvent(sender, stateKey string, membership event.Membership) *event.Event {
	return &event.Event{
		Sender:   id.UserID(sender),
		RoomID:   id.RoomID(room),
		Type:     event.StateMember,
		StateKey: &stateKey,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
	}
}

func TestInviteFromOperatorIsAccepted(t *testing.T) {
	b, out, _ := newTestBot()
	ctx := context.Background()

	b.handleMember(ctx, memberEvent("@mallory:example.org", botUser, event.MembershipInvite))
	assert.Empty(t, out.joined)

	b.handleMember(ctx, memberEvent(opUser, "@someone:example.org", event.MembershipInvite))
	assert.Empty(t, out.joined)

	b.handleMember(ctx, memberEvent(opUser, botUser, event.MembershipJoin))
	assert.Empty(t, out.joined)

	b.handleMember(ctx, memberEvent(opUser, botUser, event.MembershipInvite))
	assert.Equal(t, []string{room}, out.joined)
}

func TestLogRoomSink(t *testing.T) {
	b, out, _ := newTestBot()
	sink := b.LogRoomSink("!log:example.org")

	err := sink.Publish(context.Background(), audit.Record{
		Kind:        audit.KindAssistantAdd,
		Description: "added assistant <bot>",
		ActorID:     7,
	})
	require.NoError(t, err)
	require.Len(t, out.sent, 1)
	assert.Equal(t, "!log:example.org", out.sent[0].room)
	assert.Equal(t, "📝 [assistant.add] added assistant <bot> (by 7)", out.sent[0].body)
	assert.Contains(t, out.sent[0].html, "&lt;bot&gt;")

	out.err = errors.New("forbidden")
	assert.Error(t, sink.Publish(context.Background(), audit.Record{Kind: audit.KindMenuOpen}))
}
