// ABOUTME: Per-operator conversation state machine collecting flow parameters
// ABOUTME: Validates each input, clears the session on completion or failure, then runs the action

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/assistant-manager/internal/access"
	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/bulk"
)

// ErrNoActiveFlow is returned by Handle when the operator has no flow in progress.
var ErrNoActiveFlow = errors.New("no operation in progress")

// ErrUnknownFlow is returned by Begin for unrecognized flows.
var ErrUnknownFlow = errors.New("unknown operation")

// Authorizer is the access check and admin mutation surface the engine needs.
type Authorizer interface {
	IsAuthorized(ctx context.Context, id int64) bool
	IsOwner(id int64) bool
	GrantAdmin(ctx context.Context, actor, userID int64) error
	RevokeAdmin(ctx context.Context, actor, userID int64) error
}

// Registry is the assistant surface the engine needs.
type Registry interface {
	AddAssistant(ctx context.Context, creds assistant.Credentials, addedBy int64) (*assistant.Assistant, error)
	Snapshot() []assistant.Live
}

// Runner executes bulk operations.
type Runner interface {
	Execute(ctx context.Context, op bulk.Operation) (bulk.Summary, error)
	MinDelay() time.Duration
}

// Reply is what the engine wants shown to the operator.
type Reply struct {
	Text string
	// Done is set when the flow finished and the session was cleared.
	Done bool
}

// Engine owns every operator's Session.
type Engine struct {
	auth     Authorizer
	registry Registry
	runner   Runner
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewEngine creates an Engine.
func NewEngine(auth Authorizer, registry Registry, runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		auth:     auth,
		registry: registry,
		runner:   runner,
		logger:   logger.With("component", "conversation"),
		now:      time.Now,
		sessions: make(map[int64]*Session),
	}
}

// Begin starts flow for operator, replacing any incomplete flow.
func (e *Engine) Begin(ctx context.Context, operator int64, flow Flow) (Reply, error) {
	if !e.auth.IsAuthorized(ctx, operator) {
		return Reply{}, access.ErrUnauthorized
	}
	if !flow.Valid() {
		return Reply{}, ErrUnknownFlow
	}
	if flow.OwnerOnly() && !e.auth.IsOwner(operator) {
		return Reply{}, access.ErrForbidden
	}
	if flow.NeedsLiveAssistants() && len(e.registry.Snapshot()) == 0 {
		e.Cancel(operator)
		return Reply{}, &ValidationError{Stage: flow.first(), Reason: "no live assistants"}
	}

	sess := &Session{
		Operator:  operator,
		Flow:      flow,
		Stage:     flow.first(),
		StartedAt: e.now(),
	}

	text := e.prompt(sess)

	e.mu.Lock()
	if prev, ok := e.sessions[operator]; ok {
		e.logger.Info("replacing incomplete flow", "operator", operator, "flow", prev.Flow, "stage", prev.Stage)
	}
	e.sessions[operator] = sess
	e.mu.Unlock()

	e.logger.Debug("flow started", "operator", operator, "flow", flow)
	return Reply{Text: text}, nil
}

// Handle feeds one line of operator input to the operator's flow. A
// ValidationError or action failure ends the flow.
func (e *Engine) Handle(ctx context.Context, operator int64, text string) (Reply, error) {
	if !e.auth.IsAuthorized(ctx, operator) {
		e.Cancel(operator)
		return Reply{}, access.ErrUnauthorized
	}

	text = strings.TrimSpace(text)

	e.mu.Lock()
	sess, ok := e.sessions[operator]
	if !ok {
		e.mu.Unlock()
		return Reply{}, ErrNoActiveFlow
	}

	if err := e.accept(sess, text); err != nil {
		delete(e.sessions, operator)
		e.mu.Unlock()
		e.logger.Info("flow aborted", "operator", operator, "flow", sess.Flow, "stage", sess.Stage, "error", err)
		return Reply{Done: true}, err
	}

	next := sess.Flow.next(sess.Stage)
	if next != "" {
		sess.Stage = next
		prompt := e.prompt(sess)
		e.mu.Unlock()
		return Reply{Text: prompt}, nil
	}

	// Terminal: the session leaves the map before the action runs.
	if e.sessions[operator] == sess {
		delete(e.sessions, operator)
	}
	final := *sess
	e.mu.Unlock()

	out, err := e.complete(ctx, &final)
	if err != nil {
		e.logger.Warn("flow failed", "operator", operator, "flow", final.Flow, "error", err)
		return Reply{Done: true}, err
	}
	return Reply{Text: out, Done: true}, nil
}

// Cancel drops the operator's flow. It reports whether one was in progress.
func (e *Engine) Cancel(operator int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.sessions[operator]
	delete(e.sessions, operator)
	return ok
}

// Active returns a copy of the operator's session, if any.
func (e *Engine) Active(operator int64) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[operator]
	if !ok {
		return Session{}, false
	}
	cp := *sess
	cp.Scratch.AssistantIDs = append([]int64(nil), sess.Scratch.AssistantIDs...)
	cp.Scratch.Offered = append([]int64(nil), sess.Scratch.Offered...)
	return cp, true
}

// accept validates text for the current stage and stores it. Called with e.mu held.
func (e *Engine) accept(sess *Session, text string) error {
	fail := func(reason string) error {
		return &ValidationError{Stage: sess.Stage, Reason: reason}
	}

	switch sess.Stage {
	case StageAPIID:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil || n <= 0 {
			return fail("must be a positive number")
		}
		sess.Scratch.APIID = n

	case StageAPIHash:
		if text == "" {
			return fail("must not be empty")
		}
		sess.Scratch.APIHash = text

	case StageSession:
		if text == "" {
			return fail("must not be empty")
		}
		sess.Scratch.Session = text

	case StageLink:
		if text == "" || strings.ContainsAny(text, " \t\n") {
			return fail("must be a single chat link")
		}
		sess.Scratch.Link = text

	case StageCount:
		n, err := strconv.Atoi(text)
		if err != nil {
			return fail("must be a number")
		}
		live := len(e.registry.Snapshot())
		if n < 1 || n > live {
			return fail(fmt.Sprintf("must be between 1 and %d", live))
		}
		sess.Scratch.Count = n

	case StageSelect:
		indices, err := bulk.ParseIndices(text)
		if err != nil {
			return fail(err.Error())
		}
		ids, err := bulk.Select(sess.Scratch.Offered, indices)
		if err != nil {
			return fail(err.Error())
		}
		sess.Scratch.AssistantIDs = ids

	case StageMessage:
		if text == "" {
			return fail("must not be empty")
		}
		sess.Scratch.Message = text

	case StageDelay:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return fail("must be a whole number of seconds")
		}
		if n > math.MaxInt64/int64(time.Second) {
			return fail("is too large")
		}
		// Anything under the minimum, negatives included, is raised by the executor.
		sess.Scratch.Delay = time.Duration(max(n, 0)) * time.Second

	case StageUserID:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil || n <= 0 {
			return fail("must be a positive number")
		}
		sess.Scratch.UserID = n

	default:
		return fail("unexpected input")
	}

	return nil
}

// complete runs the flow's action. Called without e.mu held.
func (e *Engine) complete(ctx context.Context, sess *Session) (string, error) {
	switch sess.Flow {
	case FlowAddAssistant:
		return e.completeAddAssistant(ctx, sess)
	case FlowJoin, FlowLeave:
		return e.completeMembership(ctx, sess)
	case FlowBroadcast:
		return e.completeBroadcast(ctx, sess)
	case FlowAddAdmin:
		if err := e.auth.GrantAdmin(ctx, sess.Operator, sess.Scratch.UserID); err != nil {
			return "", err
		}
		return fmt.Sprintf("User %d is now an admin.", sess.Scratch.UserID), nil
	case FlowRemoveAdmin:
		if err := e.auth.RevokeAdmin(ctx, sess.Operator, sess.Scratch.UserID); err != nil {
			return "", err
		}
		return fmt.Sprintf("User %d is no longer an admin.", sess.Scratch.UserID), nil
	}
	return "", ErrUnknownFlow
}

func (e *Engine) completeAddAssistant(ctx context.Context, sess *Session) (string, error) {
	creds := assistant.Credentials{
		APIID:   sess.Scratch.APIID,
		APIHash: sess.Scratch.APIHash,
		Session: sess.Scratch.Session,
	}
	a, err := e.registry.AddAssistant(ctx, creds, sess.Operator)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Assistant %s (%d) added and online.", a.Handle, a.ID), nil
}

func (e *Engine) completeMembership(ctx context.Context, sess *Session) (string, error) {
	ids, err := bulk.First(e.registry.Snapshot(), sess.Scratch.Count)
	if err != nil {
		return "", &ValidationError{Stage: StageCount, Reason: err.Error()}
	}

	kind := bulk.KindJoin
	if sess.Flow == FlowLeave {
		kind = bulk.KindLeave
	}

	sum, err := e.runner.Execute(ctx, bulk.Operation{
		Kind:         kind,
		Target:       sess.Scratch.Link,
		AssistantIDs: ids,
		Delay:        sess.Scratch.Delay,
		ActorID:      sess.Operator,
	})
	if err != nil {
		return "", err
	}
	return summaryText(sum), nil
}

func (e *Engine) completeBroadcast(ctx context.Context, sess *Session) (string, error) {
	sum, err := e.runner.Execute(ctx, bulk.Operation{
		Kind:         bulk.KindBroadcast,
		Target:       sess.Scratch.Link,
		AssistantIDs: sess.Scratch.AssistantIDs,
		Delay:        sess.Scratch.Delay,
		Message:      sess.Scratch.Message,
		ActorID:      sess.Operator,
	})
	if err != nil {
		return "", err
	}
	return summaryText(sum), nil
}

func summaryText(sum bulk.Summary) string {
	var b strings.Builder
	b.WriteString("Done. " + sum.String())
	for _, att := range sum.Attempts {
		if att.Status == bulk.StatusOK {
			continue
		}
		label := att.Handle
		if label == "" {
			label = strconv.FormatInt(att.AssistantID, 10)
		}
		switch att.Status {
		case bulk.StatusFailed:
			fmt.Fprintf(&b, "\n- %s failed: %s", label, att.Err)
		case bulk.StatusRateLimited:
			fmt.Fprintf(&b, "\n- %s rate limited for %s", label, att.Wait)
		case bulk.StatusSkipped:
			fmt.Fprintf(&b, "\n- %s skipped (no longer live)", label)
		}
	}
	return b.String()
}

// prompt returns the question for the session's current stage. Called with
// e.mu held or before the session is published; the SELECT stage records
// the offered list in the session.
func (e *Engine) prompt(sess *Session) string {
	switch sess.Stage {
	case StageAPIID:
		return "Send the assistant's API ID."
	case StageAPIHash:
		return "Send the API hash."
	case StageSession:
		return "Send the session string."
	case StageLink:
		return "Send the room link (https://matrix.to/#/..., #alias:server or !room:server)."
	case StageCount:
		return fmt.Sprintf("How many assistants should %s? (1-%d live)", verb(sess.Flow), len(e.registry.Snapshot()))
	case StageSelect:
		// The answer is resolved against exactly this list.
		live := e.registry.Snapshot()
		sess.Scratch.Offered = make([]int64, len(live))
		var b strings.Builder
		b.WriteString("Send the numbers of the assistants to use, comma separated:")
		for i, a := range live {
			sess.Scratch.Offered[i] = a.ID
			fmt.Fprintf(&b, "\n%d. %s", i+1, a.Handle)
		}
		return b.String()
	case StageMessage:
		return "Send the message to broadcast."
	case StageDelay:
		return fmt.Sprintf("Delay between assistants in seconds (minimum %d).", int(e.runner.MinDelay()/time.Second))
	case StageUserID:
		if sess.Flow == FlowRemoveAdmin {
			return "Send the user id of the admin to remove."
		}
		return "Send the user id of the new admin."
	}
	return ""
}

func verb(f Flow) string {
	if f == FlowLeave {
		return "leave"
	}
	return "join"
}
