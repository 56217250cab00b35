// ABOUTME: Periodic liveness probing of every live assistant
// ABOUTME: Maps probe results to ONLINE / RATE_LIMITED / OFFLINE and persists them

package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/assistant-manager/internal/assistant"
)

// Registry is the subset of *assistant.Registry the supervisor uses.
type Registry interface {
	Snapshot() []assistant.Live
	SetHealth(ctx context.Context, id int64, state assistant.HealthState) error
}

// Config configures a Supervisor.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Concurrency  int
}

// Outcome is what one probe observed.
type Outcome struct {
	ID     int64
	Handle string
	State  assistant.HealthState
	Detail string
}

// Report summarizes one probe cycle.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []Outcome
}

// Count returns how many probes ended in state.
func (r Report) Count(state assistant.HealthState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// Supervisor runs probe cycles on a fixed interval.
type Supervisor struct {
	registry Registry
	cfg      Config
	logger   *slog.Logger

	mu   sync.RWMutex
	last *Report
}

// NewSupervisor creates a Supervisor. Zero config fields fall back to defaults.
func NewSupervisor(registry Registry, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Supervisor{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "health"),
	}
}

// Run probes immediately and then every interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("health supervisor started", "interval", s.cfg.Interval, "probe_timeout", s.cfg.ProbeTimeout)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("health supervisor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle probes every live assistant once. Probes run concurrently up to the
// configured limit; one failing, slow or panicking probe never affects the others.
func (s *Supervisor) RunCycle(ctx context.Context) Report {
	start := time.Now()
	live := s.registry.Snapshot()

	outcomes := make([]Outcome, len(live))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for i, a := range live {
		if ctx.Err() != nil {
			outcomes = outcomes[:i]
			break
		}
		g.Go(func() error {
			outcomes[i] = s.probeOne(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	return s.finish(start, outcomes)
}

func (s *Supervisor) finish(start time.Time, outcomes []Outcome) Report {
	rep := Report{StartedAt: start, Duration: time.Since(start), Outcomes: outcomes}

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()

	s.logger.Info("health cycle complete",
		"probed", len(outcomes),
		"online", rep.Count(assistant.HealthOnline),
		"rate_limited", rep.Count(assistant.HealthRateLimited),
		"offline", rep.Count(assistant.HealthOffline),
		"duration", rep.Duration,
	)
	return rep
}

func (s *Supervisor) probeOne(ctx context.Context, a assistant.Live) (out Outcome) {
	out = Outcome{ID: a.ID, Handle: a.Handle}

	res := s.safeProbe(ctx, a)
	out.State = Classify(res)
	if res.Outcome != assistant.OutcomeOK {
		out.Detail = res.String()
	}

	if err := s.registry.SetHealth(ctx, a.ID, out.State); err != nil {
		// Removed mid-cycle or storage trouble; the next cycle will retry.
		s.logger.Warn("recording health failed", "assistant_id", a.ID, "state", out.State, "error", err)
	}

	if out.State != assistant.HealthOnline {
		s.logger.Warn("assistant degraded", "assistant_id", a.ID, "handle", a.Handle, "state", out.State, "detail", out.Detail)
	}
	return out
}

func (s *Supervisor) safeProbe(ctx context.Context, a assistant.Live) (res assistant.Result) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("probe panicked", "assistant_id", a.ID, "panic", p)
			res = assistant.Failed(fmt.Errorf("probe panicked: %v", p))
		}
	}()

	return a.Session.Probe(ctx)
}

// Classify maps a probe result to a health state.
func Classify(res assistant.Result) assistant.HealthState {
	switch res.Outcome {
	case assistant.OutcomeOK:
		return assistant.HealthOnline
	case assistant.OutcomeRateLimited:
		return assistant.HealthRateLimited
	default:
		return assistant.HealthOffline
	}
}

// Last returns the most recent cycle report, if any.
func (s *Supervisor) Last() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}
