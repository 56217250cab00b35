// ABOUTME: Read-only HTTP status API for the assistant manager
// ABOUTME: Serves liveness, readiness, the assistant list, health reports and recent audit records

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/health"
)

const defaultAuditLimit = 50

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Assistants lists the fleet.
type Assistants interface {
	List(ctx context.Context) ([]*assistant.Assistant, error)
}

// AuditReader returns recent audit records, newest first.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

// Reports exposes the most recent health cycle.
type Reports interface {
	Last() (health.Report, bool)
}

// Deps are the components the API reads from.
type Deps struct {
	Store      Pinger
	Assistants Assistants
	Audit      AuditReader
	Health     Reports
	Logger     *slog.Logger
}

type handler struct {
	Deps
}

// NewRouter builds the chi router for the status API.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "http")
	h := &handler{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assistants", h.listAssistants)
		r.Get("/health", h.lastReport)
		r.Get("/audit", h.recentAudit)
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type assistantJSON struct {
	ID            int64      `json:"id"`
	Handle        string     `json:"handle"`
	Health        string     `json:"health"`
	Live          bool       `json:"live"`
	AddedBy       int64      `json:"added_by"`
	CreatedAt     time.Time  `json:"created_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

func (h *handler) listAssistants(w http.ResponseWriter, r *http.Request) {
	list, err := h.Assistants.List(r.Context())
	if err != nil {
		h.Logger.Error("listing assistants", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	out := make([]assistantJSON, 0, len(list))
	for _, a := range list {
		out = append(out, assistantJSON{
			ID:            a.ID,
			Handle:        a.Handle,
			Health:        string(a.Health),
			Live:          a.Live,
			AddedBy:       a.AddedBy,
			CreatedAt:     a.CreatedAt,
			LastCheckedAt: a.LastCheckedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"assistants": out, "count": len(out)})
}

type outcomeJSON struct {
	AssistantID int64  `json:"assistant_id"`
	Handle      string `json:"handle"`
	State       string `json:"state"`
	Detail      string `json:"detail,omitempty"`
}

func (h *handler) lastReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Health.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no health cycle has completed yet")
		return
	}

	outcomes := make([]outcomeJSON, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		outcomes = append(outcomes, outcomeJSON{
			AssistantID: o.ID,
			Handle:      o.Handle,
			State:       string(o.State),
			Detail:      o.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at":  rep.StartedAt,
		"duration_ms": rep.Duration.Milliseconds(),
		"outcomes":    outcomes,
	})
}

func (h *handler) recentAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.Audit.Recent(r.Context(), limit)
	if err != nil {
		h.Logger.Error("reading audit log", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
