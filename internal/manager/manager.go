// ABOUTME: Manager wires storage, the assistant fleet, the operator console and its front ends
// ABOUTME: Owns the process lifecycle: startup load, health loop, Matrix bot, HTTP status API, shutdown

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/assistant-manager/internal/access"
	"github.com/2389/assistant-manager/internal/api"
	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/bulk"
	"github.com/2389/assistant-manager/internal/config"
	"github.com/2389/assistant-manager/internal/console"
	"github.com/2389/assistant-manager/internal/conversation"
	matrixbot "github.com/2389/assistant-manager/internal/frontend/matrix"
	"github.com/2389/assistant-manager/internal/health"
	"github.com/2389/assistant-manager/internal/secrets"
	"github.com/2389/assistant-manager/internal/store"
	"github.com/2389/assistant-manager/internal/transport/matrix"
)

// Manager is the running control plane.
type Manager struct {
	config     *config.Config
	store      store.DocumentStore
	audit      *audit.Log
	redisSink  *audit.RedisSink
	access     *access.Control
	registry   *assistant.Registry
	supervisor *health.Supervisor
	executor   *bulk.Executor
	engine     *conversation.Engine
	console    *console.Console
	bot        *matrixbot.Bot
	httpServer *http.Server
	logger     *slog.Logger

	// httpAddr is the bound status API address once Run has started listening.
	httpAddr chan string

	closeOnce sync.Once
	closeErr  error
}

// New builds a Manager from cfg, talking to assistants over Matrix.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	dialer := matrix.NewDialer(cfg.Assistants.Homeserver, logger)
	return newWithDialer(ctx, cfg, dialer, logger)
}

func newWithDialer(ctx context.Context, cfg *config.Config, dialer assistant.Dialer, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m, err := build(ctx, cfg, s, dialer, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return m, nil
}

// initStore opens the configured DocumentStore.
func initStore(ctx context.Context, cfg *config.Config) (store.DocumentStore, error) {
	switch cfg.Database.Driver {
	case "mongo":
		s, err := store.NewMongoStore(ctx, cfg.Database.Mongo.URI, cfg.Database.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("initializing mongo store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

func build(ctx context.Context, cfg *config.Config, s store.DocumentStore, dialer assistant.Dialer, logger *slog.Logger) (*Manager, error) {
	box, err := secrets.NewBoxFromBase64(cfg.Security.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("loading credentials key: %w", err)
	}
	if !box.Sealing() {
		logger.Warn("security.credentials_key not set - assistant credentials are stored unencrypted")
	}

	m := &Manager{
		config:   cfg,
		store:    s,
		logger:   logger.With("component", "manager"),
		httpAddr: make(chan string, 1),
	}

	m.audit = audit.New(s, logger)
	if cfg.Audit.Redis.Addr != "" {
		sink, err := audit.NewRedisSink(ctx, audit.RedisOptions{
			Addr:     cfg.Audit.Redis.Addr,
			Password: cfg.Audit.Redis.Password,
			DB:       cfg.Audit.Redis.DB,
			Channel:  cfg.Audit.Redis.Channel,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting audit redis sink: %w", err)
		}
		m.redisSink = sink
		m.audit.AddSink(sink)
		m.logger.Info("audit records mirrored to redis", "addr", cfg.Audit.Redis.Addr, "channel", cfg.Audit.Redis.Channel)
	}

	m.access = access.New(cfg.OwnerID, s, m.audit, logger)
	m.registry = assistant.NewRegistry(assistant.RegistryConfig{
		OwnerID: cfg.OwnerID,
		Dialer:  dialer,
		Store:   s,
		Box:     box,
		Audit:   m.audit,
		Logger:  logger,
	})
	m.supervisor = health.NewSupervisor(m.registry, health.Config{
		Interval:     cfg.Health.Interval,
		ProbeTimeout: cfg.Health.ProbeTimeout,
		Concurrency:  cfg.Health.Concurrency,
	}, logger)
	m.executor = bulk.NewExecutor(m.registry, m.audit, cfg.Bulk.MinDelay, logger)
	m.engine = conversation.NewEngine(m.access, m.registry, m.executor, logger)
	m.console = console.New(m.access, m.registry, m.engine, m.supervisor, m.audit, logger)

	if cfg.Matrix.Enabled {
		bot, err := matrixbot.NewBot(matrixbot.Config{
			Homeserver:    cfg.Matrix.Homeserver,
			UserID:        cfg.Matrix.UserID,
			AccessToken:   cfg.Matrix.AccessToken,
			CommandPrefix: cfg.Matrix.CommandPrefix,
			Operators:     cfg.Matrix.Operators,
		}, m.console, logger)
		if err != nil {
			m.closeSinks()
			return nil, fmt.Errorf("creating matrix bot: %w", err)
		}
		m.bot = bot
		if cfg.Matrix.LogRoom != "" {
			m.audit.AddSink(bot.LogRoomSink(cfg.Matrix.LogRoom))
		}
	}

	m.httpServer = &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(api.Deps{
			Store:      s,
			Assistants: m.registry,
			Audit:      m.audit,
			Health:     m.supervisor,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return m, nil
}

// Console returns the operator console, for front ends other than Matrix.
func (m *Manager) Console() *console.Console {
	return m.console
}

// HTTPAddr blocks until the status API is listening and returns its address.
func (m *Manager) HTTPAddr(ctx context.Context) (string, error) {
	select {
	case addr := <-m.httpAddr:
		m.httpAddr <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run reconnects persisted assistants, starts the background loops and
// blocks until ctx is cancelled or a server fails.
func (m *Manager) Run(ctx context.Context) error {
	loaded, err := m.registry.Load(ctx)
	if err != nil {
		_ = m.shutdownResources()
		return fmt.Errorf("loading assistants: %w", err)
	}
	m.audit.Append(ctx, audit.Record{
		Kind:        audit.KindAssistantLoad,
		Description: fmt.Sprintf("startup reconnected %d assistants", loaded),
		ActorID:     m.config.OwnerID,
		Detail:      map[string]any{"live": loaded},
	})

	ln, err := net.Listen("tcp", m.config.HTTP.Addr)
	if err != nil {
		_ = m.shutdownResources()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	m.httpAddr <- ln.Addr().String()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := m.startServers(runCtx, ln)
	serverErr := m.waitForShutdownSignal(ctx, errCh)
	cancel()

	shutdownErr := m.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServers starts the HTTP server, health loop and Matrix bot.
func (m *Manager) startServers(ctx context.Context, httpLn net.Listener) chan error {
	errCh := make(chan error, 3)

	go func() {
		m.logger.Info("HTTP status API listening", "addr", httpLn.Addr().String())
		if err := m.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go func() {
		if err := m.supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("health supervisor: %w", err)
		}
	}()

	if m.bot != nil {
		go func() {
			if err := m.bot.Run(ctx); err != nil {
				errCh <- fmt.Errorf("matrix bot: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (m *Manager) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		m.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		m.logger.Error("server error", "error", err)
		return err
	}
}

func (m *Manager) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes live sessions, sinks and the store.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down")

	var errs []error
	if err := m.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := m.shutdownResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) shutdownResources() error {
	m.closeOnce.Do(func() {
		m.registry.Close()
		m.closeSinks()
		if err := m.store.Close(); err != nil {
			m.closeErr = fmt.Errorf("closing store: %w", err)
		}
	})
	return m.closeErr
}

func (m *Manager) closeSinks() {
	if m.redisSink != nil {
		if err := m.redisSink.Close(); err != nil {
			m.logger.Warn("closing redis sink", "error", err)
		}
		m.redisSink = nil
	}
}

// Assistants lists persisted assistants without connecting them.
func (m *Manager) Assistants(ctx context.Context) ([]*assistant.Assistant, error) {
	return m.registry.List(ctx)
}

// CheckOnce reconnects persisted assistants, runs a single health cycle and
// releases everything.
func (m *Manager) CheckOnce(ctx context.Context) (health.Report, error) {
	if _, err := m.registry.Load(ctx); err != nil {
		_ = m.shutdownResources()
		return health.Report{}, err
	}
	rep := m.supervisor.RunCycle(ctx)
	return rep, m.shutdownResources()
}

// Close releases resources of a Manager that was never Run.
func (m *Manager) Close() error {
	return m.shutdownResources()
}
