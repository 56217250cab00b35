// ABOUTME: Platform-neutral operator console: menu actions, read-only views and flow input
// ABOUTME: Chat front ends translate their events into Dispatch/Input calls and render the Response

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/2389/assistant-manager/internal/access"
	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/conversation"
	"github.com/2389/assistant-manager/internal/health"
	"github.com/2389/assistant-manager/internal/store"
)

// Action identifies a menu entry.
type Action string

const (
	ActionStart           Action = "start"
	ActionMenu            Action = "menu"
	ActionAddAssistant    Action = "add_assistant"
	ActionListAssistant   Action = "list_assistant"
	ActionRemoveAssistant Action = "remove_assistant"
	ActionJoin            Action = "join"
	ActionLeave           Action = "leave"
	ActionHealth          Action = "health"
	ActionSpecificMsg     Action = "specific_msg"
	ActionManageAdmin     Action = "manage_admin"
	ActionAddAdmin        Action = "add_admin"
	ActionRemoveAdmin     Action = "remove_admin"
	ActionBack            Action = "back"
	ActionCancel          Action = "cancel"
	ActionAssistDetail    Action = "assist_detail"
)

// Button is a follow-up action offered with a Response.
type Button struct {
	Label  string
	Action Action
}

// Response is Markdown text plus optional buttons.
type Response struct {
	Text    string
	Buttons []Button
}

// Access is the authorization surface the console needs.
type Access interface {
	IsAuthorized(ctx context.Context, id int64) bool
	IsOwner(id int64) bool
	Admins(ctx context.Context, actor int64) ([]*store.Admin, error)
}

// Registry is the assistant surface the console needs.
type Registry interface {
	List(ctx context.Context) ([]*assistant.Assistant, error)
	RemoveAssistant(ctx context.Context, id, requestor int64) error
	CanRemove(requestor, addedBy int64) bool
}

// Conversations is the flow surface the console needs.
type Conversations interface {
	Begin(ctx context.Context, operator int64, flow conversation.Flow) (conversation.Reply, error)
	Handle(ctx context.Context, operator int64, text string) (conversation.Reply, error)
	Cancel(operator int64) bool
	Active(operator int64) (conversation.Session, bool)
}

// Prober runs an on-demand health cycle.
type Prober interface {
	RunCycle(ctx context.Context) health.Report
}

// Console routes operator actions.
type Console struct {
	access   Access
	registry Registry
	convo    Conversations
	prober   Prober
	audit    *audit.Log
	logger   *slog.Logger
}

// New creates a Console. prober and auditLog may be nil.
func New(acc Access, registry Registry, convo Conversations, prober Prober, auditLog *audit.Log, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		access:   acc,
		registry: registry,
		convo:    convo,
		prober:   prober,
		audit:    auditLog,
		logger:   logger.With("component", "console"),
	}
}

var flowActions = map[Action]conversation.Flow{
	ActionAddAssistant: conversation.FlowAddAssistant,
	ActionJoin:         conversation.FlowJoin,
	ActionLeave:        conversation.FlowLeave,
	ActionSpecificMsg:  conversation.FlowBroadcast,
	ActionAddAdmin:     conversation.FlowAddAdmin,
	ActionRemoveAdmin:  conversation.FlowRemoveAdmin,
}

// ParseAction maps a command word to an Action.
func ParseAction(word string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(word)))
	switch a {
	case ActionStart, ActionMenu, ActionAddAssistant, ActionListAssistant, ActionRemoveAssistant,
		ActionJoin, ActionLeave, ActionHealth, ActionSpecificMsg, ActionManageAdmin,
		ActionAddAdmin, ActionRemoveAdmin, ActionBack, ActionCancel, ActionAssistDetail:
		return a, true
	}
	return "", false
}

// Dispatch handles a menu action.
func (c *Console) Dispatch(ctx context.Context, operator int64, action Action, args []string) Response {
	if !c.access.IsAuthorized(ctx, operator) {
		c.logger.Warn("unauthorized action", "operator", operator, "action", action)
		return Response{Text: Describe(access.ErrUnauthorized)}
	}

	if flow, ok := flowActions[action]; ok {
		reply, err := c.convo.Begin(ctx, operator, flow)
		if err != nil {
			return c.errorResponse(err)
		}
		return Response{Text: reply.Text, Buttons: []Button{{Label: "Cancel", Action: ActionCancel}}}
	}

	switch action {
	case ActionStart:
		c.recordMenuOpen(ctx, operator)
		return c.menu(operator)
	case ActionMenu, ActionBack:
		return c.menu(operator)
	case ActionCancel:
		if c.convo.Cancel(operator) {
			return Response{Text: "Operation cancelled.", Buttons: menuButton()}
		}
		return Response{Text: "Nothing to cancel.", Buttons: menuButton()}
	case ActionListAssistant:
		return c.listAssistants(ctx)
	case ActionAssistDetail:
		return c.assistDetail(ctx)
	case ActionRemoveAssistant:
		return c.removeAssistant(ctx, operator, args)
	case ActionHealth:
		return c.healthView(ctx)
	case ActionManageAdmin:
		return c.manageAdmin(ctx, operator)
	}

	return Response{Text: fmt.Sprintf("Unknown action %q.", action), Buttons: menuButton()}
}

// Busy reports whether operator is in the middle of a flow.
func (c *Console) Busy(operator int64) bool {
	_, ok := c.convo.Active(operator)
	return ok
}

// Input handles free text, routed to the operator's active flow.
func (c *Console) Input(ctx context.Context, operator int64, text string) Response {
	if !c.access.IsAuthorized(ctx, operator) {
		return Response{Text: Describe(access.ErrUnauthorized)}
	}

	reply, err := c.convo.Handle(ctx, operator, text)
	if errors.Is(err, conversation.ErrNoActiveFlow) {
		return Response{Text: "No operation in progress. Send `start` for the menu."}
	}
	if err != nil {
		return c.errorResponse(err)
	}

	resp := Response{Text: reply.Text}
	if reply.Done {
		resp.Buttons = menuButton()
	} else {
		resp.Buttons = []Button{{Label: "Cancel", Action: ActionCancel}}
	}
	return resp
}

func (c *Console) menu(operator int64) Response {
	buttons := []Button{
		{Label: "Add assistant", Action: ActionAddAssistant},
		{Label: "List assistants", Action: ActionListAssistant},
		{Label: "Assistant details", Action: ActionAssistDetail},
		{Label: "Remove assistant", Action: ActionRemoveAssistant},
		{Label: "Join chat", Action: ActionJoin},
		{Label: "Leave chat", Action: ActionLeave},
		{Label: "Send message", Action: ActionSpecificMsg},
		{Label: "Health check", Action: ActionHealth},
	}
	if c.access.IsOwner(operator) {
		buttons = append(buttons, Button{Label: "Manage admins", Action: ActionManageAdmin})
	}
	return Response{Text: "**Assistant manager**\nChoose an action:", Buttons: buttons}
}

func (c *Console) listAssistants(ctx context.Context) Response {
	list, err := c.registry.List(ctx)
	if err != nil {
		return c.errorResponse(err)
	}
	if len(list) == 0 {
		return Response{Text: "No assistants yet.", Buttons: menuButton()}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Assistants (%d)**\n", len(list))
	n := 0
	for _, a := range list {
		if a.Live {
			n++
			fmt.Fprintf(&b, "%d. %s %s `%d`\n", n, Marker(a.Health), a.Handle, a.ID)
		} else {
			fmt.Fprintf(&b, "-. %s %s `%d` (not connected)\n", Marker(a.Health), a.Handle, a.ID)
		}
	}
	return Response{Text: strings.TrimRight(b.String(), "\n"), Buttons: menuButton()}
}

func (c *Console) assistDetail(ctx context.Context) Response {
	list, err := c.registry.List(ctx)
	if err != nil {
		return c.errorResponse(err)
	}
	if len(list) == 0 {
		return Response{Text: "No assistants yet.", Buttons: menuButton()}
	}

	var b strings.Builder
	b.WriteString("**Assistant details**\n")
	for _, a := range list {
		fmt.Fprintf(&b, "\n**%s**\n", a.Handle)
		fmt.Fprintf(&b, "- id: `%d`\n", a.ID)
		fmt.Fprintf(&b, "- health: %s %s\n", Marker(a.Health), a.Health)
		fmt.Fprintf(&b, "- connected: %t\n", a.Live)
		fmt.Fprintf(&b, "- added by: `%d` on %s\n", a.AddedBy, a.CreatedAt.UTC().Format(time.DateTime))
		fmt.Fprintf(&b, "- last checked: %s\n", formatChecked(a.LastCheckedAt))
	}
	return Response{Text: strings.TrimRight(b.String(), "\n"), Buttons: menuButton()}
}

func (c *Console) removeAssistant(ctx context.Context, operator int64, args []string) Response {
	if len(args) == 0 {
		return c.removableList(ctx, operator)
	}

	id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil {
		return Response{Text: "Usage: `remove_assistant <id>`", Buttons: menuButton()}
	}

	if err := c.registry.RemoveAssistant(ctx, id, operator); err != nil {
		return c.errorResponse(err)
	}
	return Response{Text: fmt.Sprintf("Assistant `%d` removed.", id), Buttons: menuButton()}
}

func (c *Console) removableList(ctx context.Context, operator int64) Response {
	list, err := c.registry.List(ctx)
	if err != nil {
		return c.errorResponse(err)
	}

	var b strings.Builder
	n := 0
	for _, a := range list {
		if !c.registry.CanRemove(operator, a.AddedBy) {
			continue
		}
		n++
		fmt.Fprintf(&b, "- %s %s `%d`\n", Marker(a.Health), a.Handle, a.ID)
	}
	if n == 0 {
		return Response{Text: "No assistants you can remove.", Buttons: menuButton()}
	}
	return Response{
		Text:    "**Assistants you can remove**\n" + b.String() + "\nSend `remove_assistant <id>` to remove one.",
		Buttons: menuButton(),
	}
}

func (c *Console) healthView(ctx context.Context) Response {
	var header string
	if c.prober != nil {
		rep := c.prober.RunCycle(ctx)
		header = fmt.Sprintf("Probed %d assistants in %s.\n", len(rep.Outcomes), rep.Duration.Round(time.Millisecond))
	}

	list, err := c.registry.List(ctx)
	if err != nil {
		return c.errorResponse(err)
	}
	if len(list) == 0 {
		return Response{Text: "No assistants yet.", Buttons: menuButton()}
	}

	counts := map[assistant.HealthState]int{}
	var b strings.Builder
	b.WriteString("**Health**\n" + header)
	for _, a := range list {
		counts[a.Health]++
		fmt.Fprintf(&b, "%s %s: %s\n", Marker(a.Health), a.Handle, a.Health)
	}
	fmt.Fprintf(&b, "\nonline %d, rate limited %d, offline %d, unknown %d",
		counts[assistant.HealthOnline], counts[assistant.HealthRateLimited],
		counts[assistant.HealthOffline], counts[assistant.HealthUnknown])
	return Response{Text: b.String(), Buttons: menuButton()}
}

func (c *Console) manageAdmin(ctx context.Context, operator int64) Response {
	admins, err := c.access.Admins(ctx, operator)
	if err != nil {
		return c.errorResponse(err)
	}

	var b strings.Builder
	b.WriteString("**Admins**\n")
	if len(admins) == 0 {
		b.WriteString("No admins yet.")
	}
	for _, a := range admins {
		fmt.Fprintf(&b, "- `%d` (since %s)\n", a.UserID, a.CreatedAt.UTC().Format(time.DateOnly))
	}
	return Response{
		Text: strings.TrimRight(b.String(), "\n"),
		Buttons: []Button{
			{Label: "Add admin", Action: ActionAddAdmin},
			{Label: "Remove admin", Action: ActionRemoveAdmin},
			{Label: "Back", Action: ActionBack},
		},
	}
}

func (c *Console) recordMenuOpen(ctx context.Context, operator int64) {
	if c.audit == nil {
		return
	}
	c.audit.Append(ctx, audit.Record{
		Kind:        audit.KindMenuOpen,
		Description: fmt.Sprintf("menu opened by %d", operator),
		ActorID:     operator,
	})
}

func (c *Console) errorResponse(err error) Response {
	return Response{Text: Describe(err), Buttons: menuButton()}
}

func menuButton() []Button {
	return []Button{{Label: "Menu", Action: ActionMenu}}
}

func formatChecked(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.DateTime)
}

// Marker returns the status glyph for a health state.
func Marker(h assistant.HealthState) string {
	switch h {
	case assistant.HealthOnline:
		return "🟢"
	case assistant.HealthRateLimited:
		return "🟡"
	case assistant.HealthOffline:
		return "🔴"
	default:
		return "⚪"
	}
}
