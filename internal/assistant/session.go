// ABOUTME: Contract between the control plane and a remote assistant session
// ABOUTME: Defines Credentials, Identity, the per-call Result type and the Dialer/Session interfaces

package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/assistant-manager/internal/store"
)

// HealthState is the last observed liveness of an assistant.
type HealthState string

const (
	HealthOnline      HealthState = store.HealthOnline
	HealthRateLimited HealthState = store.HealthRateLimited
	HealthOffline     HealthState = store.HealthOffline
	HealthUnknown     HealthState = store.HealthUnknown
)

// Credentials are what an operator supplies to attach an assistant.
// They are sealed before being persisted and never logged.
type Credentials struct {
	APIID   int64  `json:"api_id"`
	APIHash string `json:"api_hash"`
	Session string `json:"session"`
}

// Identity is who a session says it is once connected.
type Identity struct {
	ID     int64
	Handle string
}

// Outcome classifies a single remote call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one remote call. Wait is set for RateLimited,
// Err for Failed.
type Result struct {
	Outcome Outcome
	Wait    time.Duration
	Err     error
}

// OK is a successful call.
func OK() Result {
	return Result{Outcome: OutcomeOK}
}

// RateLimited is a call the platform throttled; wait is the cooldown it asked for.
func RateLimited(wait time.Duration) Result {
	if wait < 0 {
		wait = 0
	}
	return Result{Outcome: OutcomeRateLimited, Wait: wait}
}

// Failed is any other failure.
func Failed(err error) Result {
	if err == nil {
		err = fmt.Errorf("unspecified failure")
	}
	return Result{Outcome: OutcomeFailed, Err: err}
}

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeRateLimited:
		return fmt.Sprintf("rate limited (wait %s)", r.Wait)
	case OutcomeFailed:
		return "failed: " + r.Err.Error()
	default:
		return r.Outcome.String()
	}
}

// Session is one connected assistant account.
type Session interface {
	Identity() Identity
	Probe(ctx context.Context) Result
	JoinChat(ctx context.Context, ref string) Result
	LeaveChat(ctx context.Context, ref string) Result
	SendMessage(ctx context.Context, ref, body string) Result
	Close() error
}

// Dialer opens sessions from credentials.
type Dialer interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, creds Credentials) (Session, error)

// Connect calls f.
func (f DialerFunc) Connect(ctx context.Context, creds Credentials) (Session, error) {
	return f(ctx, creds)
}
