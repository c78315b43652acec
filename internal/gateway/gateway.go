// ABOUTME: Gateway orchestrator that wires the receptionist services behind one HTTP server
// ABOUTME: Manages the store, notifier, engine, webhook receiver, and health endpoints lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/2389/frontdesk-gateway/internal/auth"
	"github.com/2389/frontdesk-gateway/internal/config"
	"github.com/2389/frontdesk-gateway/internal/dedupe"
	"github.com/2389/frontdesk-gateway/internal/engine"
	"github.com/2389/frontdesk-gateway/internal/escalation"
	"github.com/2389/frontdesk-gateway/internal/knowledge"
	"github.com/2389/frontdesk-gateway/internal/llm"
	"github.com/2389/frontdesk-gateway/internal/metrics"
	"github.com/2389/frontdesk-gateway/internal/notify"
	"github.com/2389/frontdesk-gateway/internal/ratelimit"
	"github.com/2389/frontdesk-gateway/internal/store"
	"github.com/2389/frontdesk-gateway/internal/webhook"
)

// readyTimeout bounds the database ping behind /health/ready.
const readyTimeout = 2 * time.Second

// Gateway owns every long-lived component of the receptionist backend.
type Gateway struct {
	config     *config.Config
	store      store.Store
	metrics    *metrics.Metrics
	knowledge  *knowledge.Store
	registry   *escalation.Registry
	notifier   *notify.Notifier
	engine     *engine.Engine
	replays    *dedupe.Guard
	webhook    *webhook.Receiver
	guard      *auth.Guard
	limiter    *ratelimit.Limiter
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore opens the SQLite database named in config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initLLM returns nil when no API key is configured; the engine then skips the tier.
func initLLM(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.LLM, error) {
	client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if errors.Is(err, llm.ErrDisabled) {
		logger.Warn("LLM tier disabled - no llm.api_key configured")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	return client, nil
}

// initGuard builds the bearer-token guard, disabled when no secret is configured.
func initGuard(cfg *config.Config, logger *slog.Logger) (*auth.Guard, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
		return auth.NewGuard(nil), nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	logger.Info("HTTP auth middleware enabled")
	return auth.NewGuard(verifier), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	model, err := initLLM(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(cfg, s, model, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires the services over an already opened store.
func newGateway(cfg *config.Config, s store.Store, model engine.LLM, logger *slog.Logger) (*Gateway, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(s)
	}

	kb := knowledge.New(s, m, logger)
	registry := escalation.NewRegistry(s, logger)
	notifier := notify.New(notify.Config{
		QueueSize:    cfg.Notifier.QueueSize,
		WriteTimeout: cfg.Notifier.WriteTimeout,
	}, m, logger)

	eng, err := engine.New(engine.Config{
		Knowledge:       kb,
		Escalations:     registry,
		Notifier:        notifier,
		LLM:             model,
		Speaker:         notify.NewSessionSpeaker(notifier),
		Metrics:         m,
		MaxHistoryTurns: cfg.LLM.MaxHistoryTurns,
	}, logger)
	if err != nil {
		return nil, err
	}

	guard, err := initGuard(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Webhook.LiveKitSecret == "" {
		logger.Warn("webhook secret not configured - all LiveKit deliveries will be rejected")
	}
	replays := dedupe.New(cfg.Webhook.ReplayWindow, cfg.Webhook.ReplayMaxKeys)

	gw := &Gateway{
		config:    cfg,
		store:     s,
		metrics:   m,
		knowledge: kb,
		registry:  registry,
		notifier:  notifier,
		engine:    eng,
		replays:   replays,
		webhook:   webhook.NewReceiver(cfg.Webhook.LiveKitSecret, notifier, replays, m, logger),
		guard:     guard,
		limiter: ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.Server.AllowedOrigins),
		},
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}

	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on the configured address and serves until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled or the server fails, then shuts down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server error", "error", err)
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return grp.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, closes subscriber connections and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websocket connections are not tracked by http.Server
	g.notifier.Close()
	g.replays.Close()

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d subscribers)", g.notifier.Count())
}
