package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabulant/tabulant/internal/auth"
	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/internal/store"
)

// Server wires the REST surface, the websocket endpoint, and the session
// runtime together.
type Server struct {
	addr           string
	dataDir        string
	maxUploadBytes int64

	store    store.Store
	auth     *auth.Service
	runtime  *Runtime
	logger   *observability.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// ServerConfig carries the gateway's own settings.
type ServerConfig struct {
	Addr           string
	DataDir        string
	MaxUploadBytes int64
}

// NewServer assembles the HTTP server and its routes.
func NewServer(cfg ServerConfig, st store.Store, authService *auth.Service, runtime *Runtime, logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		addr:           cfg.Addr,
		dataDir:        cfg.DataDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		store:          st,
		auth:           authService,
		runtime:        runtime,
		logger:         logger,
		metrics:        metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for httptest servers.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.auth))
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions/upload", s.handleUpload)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
	})

	// The socket authenticates itself after the upgrade so a bad credential
	// gets a close frame rather than a failed handshake.
	r.Get("/sessions/{id}/ws", s.handleWebSocket)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info(ctx, "server listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
