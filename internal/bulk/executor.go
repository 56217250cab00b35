// ABOUTME: Sequential bulk join/leave/broadcast over an ordered set of assistants
// ABOUTME: Enforces a per-step delay, absorbs rate limits and records one audit entry per batch

package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/audit"
)

// Kind is the action a bulk operation performs.
type Kind string

const (
	KindJoin      Kind = "JOIN"
	KindLeave     Kind = "LEAVE"
	KindBroadcast Kind = "BROADCAST"
)

// Status is the outcome of one assistant's attempt.
type Status string

const (
	StatusOK          Status = "ok"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
)

// ErrInvalidOperation is returned when an Operation is malformed.
var ErrInvalidOperation = errors.New("invalid bulk operation")

// Operation is one bulk request. AssistantIDs are attempted in order.
type Operation struct {
	Kind         Kind
	Target       string
	AssistantIDs []int64
	Delay        time.Duration
	Message      string
	ActorID      int64
}

// Attempt records what happened for one assistant.
type Attempt struct {
	AssistantID int64
	Handle      string
	Status      Status
	Wait        time.Duration
	Err         string
}

// Summary is the folded result of a batch.
type Summary struct {
	Kind      Kind
	Target    string
	Delay     time.Duration
	Attempts  []Attempt
	Cancelled bool
}

// Count returns how many attempts ended with status.
func (s Summary) Count(status Status) int {
	n := 0
	for _, a := range s.Attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

// String renders a one-line operator-facing summary.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d ok", s.Kind, s.Target, s.Count(StatusOK))
	if n := s.Count(StatusRateLimited); n > 0 {
		fmt.Fprintf(&b, ", %d rate limited", n)
	}
	if n := s.Count(StatusFailed); n > 0 {
		fmt.Fprintf(&b, ", %d failed", n)
	}
	if n := s.Count(StatusSkipped); n > 0 {
		fmt.Fprintf(&b, ", %d skipped", n)
	}
	if s.Cancelled {
		b.WriteString(" (cancelled)")
	}
	return b.String()
}

// Resolver looks up live assistants by id.
type Resolver interface {
	Lookup(id int64) (assistant.Live, bool)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs bulk operations. Each Execute call is independent; there is
// no ordering between concurrent calls.
type Executor struct {
	resolver Resolver
	audit    *audit.Log
	minDelay time.Duration
	sleep    SleepFunc
	logger   *slog.Logger
}

// NewExecutor creates an Executor. Delays shorter than minDelay are raised to it.
func NewExecutor(resolver Resolver, auditLog *audit.Log, minDelay time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver: resolver,
		audit:    auditLog,
		minDelay: minDelay,
		sleep:    sleepContext,
		logger:   logger.With("component", "bulk"),
	}
}

// SetSleep replaces the wait function, e.g. with a recorder in tests.
func (e *Executor) SetSleep(fn SleepFunc) {
	e.sleep = fn
}

// MinDelay returns the configured floor.
func (e *Executor) MinDelay() time.Duration {
	return e.minDelay
}

// EffectiveDelay floors d to the configured minimum.
func (e *Executor) EffectiveDelay(d time.Duration) time.Duration {
	if d < e.minDelay {
		return e.minDelay
	}
	return d
}

// Execute attempts op on each assistant in order. Per-assistant failures are
// folded into the Summary; only a malformed operation returns an error.
// A cancelled ctx stops the batch early; the partial batch is still audited.
func (e *Executor) Execute(ctx context.Context, op Operation) (Summary, error) {
	if err := validate(op); err != nil {
		return Summary{}, err
	}

	delay := e.EffectiveDelay(op.Delay)
	sum := Summary{Kind: op.Kind, Target: op.Target, Delay: delay}

	e.logger.Info("bulk operation started",
		"kind", op.Kind,
		"target", op.Target,
		"count", len(op.AssistantIDs),
		"delay", delay,
		"actor", op.ActorID,
	)

	for i, id := range op.AssistantIDs {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}

		live, ok := e.resolver.Lookup(id)
		if !ok {
			e.logger.Warn("assistant no longer live, skipping", "assistant_id", id)
			sum.Attempts = append(sum.Attempts, Attempt{AssistantID: id, Status: StatusSkipped})
			continue
		}

		att := e.attempt(ctx, op, live)
		sum.Attempts = append(sum.Attempts, att)

		// No pacing after the last step, but a platform cooldown is always honored.
		last := i == len(op.AssistantIDs)-1
		if last && att.Status != StatusRateLimited {
			break
		}

		wait := delay
		if att.Status == StatusRateLimited {
			wait = att.Wait
		}
		if err := e.sleep(ctx, wait); err != nil {
			sum.Cancelled = !last
			break
		}
	}

	e.logger.Info("bulk operation finished",
		"kind", op.Kind,
		"target", op.Target,
		"ok", sum.Count(StatusOK),
		"rate_limited", sum.Count(StatusRateLimited),
		"failed", sum.Count(StatusFailed),
		"skipped", sum.Count(StatusSkipped),
		"cancelled", sum.Cancelled,
	)

	e.record(ctx, op, sum)
	return sum, nil
}

func (e *Executor) attempt(ctx context.Context, op Operation, live assistant.Live) (att Attempt) {
	att = Attempt{AssistantID: live.ID, Handle: live.Handle}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("bulk attempt panicked", "assistant_id", live.ID, "panic", p)
			att.Status = StatusFailed
			att.Err = fmt.Sprintf("panic: %v", p)
		}
	}()

	var res assistant.Result
	switch op.Kind {
	case KindJoin:
		res = live.Session.JoinChat(ctx, op.Target)
	case KindLeave:
		res = live.Session.LeaveChat(ctx, op.Target)
	case KindBroadcast:
		res = live.Session.SendMessage(ctx, op.Target, op.Message)
	}

	switch res.Outcome {
	case assistant.OutcomeOK:
		att.Status = StatusOK
	case assistant.OutcomeRateLimited:
		att.Status = StatusRateLimited
		att.Wait = res.Wait
		e.logger.Warn("rate limited, waiting", "assistant_id", live.ID, "wait", res.Wait)
	default:
		att.Status = StatusFailed
		if res.Err != nil {
			att.Err = res.Err.Error()
		}
		e.logger.Warn("bulk attempt failed", "assistant_id", live.ID, "kind", op.Kind, "error", att.Err)
	}
	return att
}

func (e *Executor) record(ctx context.Context, op Operation, sum Summary) {
	if e.audit == nil {
		return
	}

	var kind audit.Kind
	switch op.Kind {
	case KindJoin:
		kind = audit.KindBulkJoin
	case KindLeave:
		kind = audit.KindBulkLeave
	default:
		kind = audit.KindBulkBroadcast
	}

	desc := fmt.Sprintf("%s %s with %d assistants, delay %s (%s)",
		op.Kind, op.Target, len(op.AssistantIDs), sum.Delay, sum.String())

	e.audit.Append(ctx, audit.Record{
		Kind:        kind,
		Description: desc,
		ActorID:     op.ActorID,
		Detail: map[string]any{
			"kind":          string(op.Kind),
			"target":        op.Target,
			"count":         len(op.AssistantIDs),
			"delay_seconds": int(sum.Delay / time.Second),
			"ok":            sum.Count(StatusOK),
			"rate_limited":  sum.Count(StatusRateLimited),
			"failed":        sum.Count(StatusFailed),
			"skipped":       sum.Count(StatusSkipped),
			"cancelled":     sum.Cancelled,
			"assistant_ids": idStrings(op.AssistantIDs),
		},
	})
}

func validate(op Operation) error {
	switch op.Kind {
	case KindJoin, KindLeave, KindBroadcast:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	if strings.TrimSpace(op.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidOperation)
	}
	if len(op.AssistantIDs) == 0 {
		return fmt.Errorf("%w: no assistants selected", ErrInvalidOperation)
	}
	if op.Kind == KindBroadcast && strings.TrimSpace(op.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidOperation)
	}
	if op.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidOperation)
	}
	return nil
}

func idStrings(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
