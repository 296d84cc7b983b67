// ABOUTME: Server orchestrator wiring the gate, session store, assistant client, and web UI
// ABOUTME: Manages the HTTP server lifecycle including graceful shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kartbot/kartbot/internal/assistant"
	"github.com/kartbot/kartbot/internal/config"
	"github.com/kartbot/kartbot/internal/conversation"
	"github.com/kartbot/kartbot/internal/gate"
	"github.com/kartbot/kartbot/internal/monitor"
	"github.com/kartbot/kartbot/internal/ratelimit"
	"github.com/kartbot/kartbot/internal/session"
	"github.com/kartbot/kartbot/internal/webui"
)

// Server owns every long-lived component of the relay and the HTTP
// server in front of them.
type Server struct {
	config       *config.Config
	metrics      *monitor.Metrics
	limiter      *ratelimit.Limiter
	sessions     *session.Store
	conversation *conversation.Service
	httpServer   *http.Server
	logger       *slog.Logger
}

// New creates a Server instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	metrics := monitor.New()

	sessions := session.New(
		cfg.Sessions.Max,
		cfg.Sessions.IdleThreshold,
		cfg.Sessions.ReapInterval,
		metrics.SetActiveSessions,
		logger.With("component", "sessions"),
	)

	callGate := gate.New(cfg.Gate.MaxConcurrent, cfg.Gate.MaxQueue, metrics)

	client := assistant.NewClient(assistant.Config{
		BaseURL:     cfg.Assistant.BaseURL,
		APIKey:      cfg.Assistant.APIKey,
		AssistantID: cfg.Assistant.AssistantID,
	})

	convService := conversation.New(client, callGate, sessions,
		cfg.Assistant.WelcomeMessage, logger)

	limiter := ratelimit.New(cfg.RateLimit.Burst, cfg.RateLimit.Window)

	ui := webui.New(cfg.Assistant.WelcomeMessage, logger)

	s := &Server{
		config:       cfg,
		metrics:      metrics,
		limiter:      limiter,
		sessions:     sessions,
		conversation: convService,
		logger:       logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/api/chat", s.withAPIMiddleware(http.HandlerFunc(s.handleChat)))
	mux.Handle("/api/reset-thread", s.withAPIMiddleware(http.HandlerFunc(s.handleResetThread)))
	mux.HandleFunc("/api/status", s.handleStatus)

	mux.HandleFunc("/", ui.ServeIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", ui.StaticHandler()))

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases background resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)

	s.sessions.Close()
	s.limiter.Close()

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
