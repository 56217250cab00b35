// ABOUTME: Matrix operator bot: turns room messages into console actions and replies
// ABOUTME: Handles command prefixes, operator mapping, redelivery and invite auto-join

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/assistant-manager/internal/access"
	"github.com/2389/assistant-manager/internal/console"
	"github.com/2389/assistant-manager/internal/dedupe"
)

// networkTimeout bounds each outbound Matrix call.
const networkTimeout = 30 * time.Second

// Console is the operator surface the bot drives.
type Console interface {
	Dispatch(ctx context.Context, operator int64, action console.Action, args []string) console.Response
	Input(ctx context.Context, operator int64, text string) console.Response
	Busy(operator int64) bool
}

// Config holds the bot account and operator mapping.
type Config struct {
	Homeserver    string
	UserID        string
	AccessToken   string
	CommandPrefix string
	// Operators maps Matrix user ids to operator ids.
	Operators map[string]int64
}

type messenger interface {
	send(ctx context.Context, roomID, body, html string) error
	join(ctx context.Context, roomID string) error
}

type clientMessenger struct {
	cli *mautrix.Client
}

func (m clientMessenger) send(ctx context.Context, roomID, body, html string) error {
	content := &event.MessageEventContent{MsgType: event.MsgNotice, Body: body}
	if html != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	_, err := m.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	return err
}

func (m clientMessenger) join(ctx context.Context, roomID string) error {
	_, err := m.cli.JoinRoomByID(ctx, id.RoomID(roomID))
	return err
}

// Bot is the operator-facing Matrix account.
type Bot struct {
	cfg       Config
	client    *mautrix.Client
	out       messenger
	console   Console
	seen      *dedupe.Window
	logger    *slog.Logger
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBot creates the operator bot.
func NewBot(cfg Config, con Console, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	b := newBot(cfg, clientMessenger{cli: client}, con, logger)
	b.client = client
	return b, nil
}

func newBot(cfg Config, out messenger, con Console, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	return &Bot{
		cfg:       cfg,
		out:       out,
		console:   con,
		seen:      dedupe.New(10*time.Minute, 10000),
		logger:    logger.With("component", "matrix-bot"),
		startedAt: time.Now(),
		ctx:       context.Background(),
	}
}

// Run syncs with the homeserver until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting matrix operator bot",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
		"operators", len(b.cfg.Operators),
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		go b.handleMessage(b.ctx, evt)
	})
	syncer.OnEventType(event.StateMember, func(_ context.Context, evt *event.Event) {
		go b.handleMember(b.ctx, evt)
	})

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix operator bot running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix operator bot")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessage processes one inbound room message.
func (b *Bot) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	if evt.Timestamp < b.startedAt.UnixMilli() {
		return
	}
	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping redelivered event", "event_id", evt.ID.String())
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	resp, ok := b.route(ctx, evt.Sender.String(), content.Body)
	if !ok {
		return
	}
	b.reply(ctx, evt.RoomID.String(), resp)
}

// route decides how to answer text from sender. ok is false when the
// message is not addressed to the bot.
func (b *Bot) route(ctx context.Context, sender, text string) (console.Response, bool) {
	text = strings.TrimSpace(text)
	operator, known := b.cfg.Operators[sender]

	if cmd, isCmd := strings.CutPrefix(text, b.cfg.CommandPrefix); isCmd {
		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			return console.Response{}, false
		}
		if !known {
			b.logger.Warn("command from unmapped sender", "sender", sender)
			return console.Response{Text: console.Describe(access.ErrUnauthorized)}, true
		}
		action, valid := console.ParseAction(fields[0])
		if !valid && b.console.Busy(operator) {
			return b.console.Input(ctx, operator, text), true
		}
		if !valid {
			return console.Response{
				Text:    fmt.Sprintf("Unknown command `%s`.", fields[0]),
				Buttons: []console.Button{{Label: "Menu", Action: console.ActionMenu}},
			}, true
		}
		b.logger.Info("operator command", "sender", sender, "operator", operator, "action", action)
		return b.console.Dispatch(ctx, operator, action, fields[1:]), true
	}

	// Free text only matters to an operator who is mid-flow.
	if !known || text == "" || !b.console.Busy(operator) {
		return console.Response{}, false
	}
	return b.console.Input(ctx, operator, text), true
}

func (b *Bot) reply(ctx context.Context, roomID string, resp console.Response) {
	body, html := Render(resp, b.cfg.CommandPrefix)
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if err := b.out.send(ctx, roomID, body, html); err != nil {
		b.logger.Error("failed to send reply", "room", roomID, "error", err)
	}
}

// handleMember joins rooms an operator invites the bot to.
func (b *Bot) handleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.cfg.UserID {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if _, ok := b.cfg.Operators[evt.Sender.String()]; !ok {
		b.logger.Info("ignoring invite from non-operator", "sender", evt.Sender.String(), "room", evt.RoomID.String())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if err := b.out.join(ctx, evt.RoomID.String()); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room on invite", "room", evt.RoomID.String(), "sender", evt.Sender.String())
}
