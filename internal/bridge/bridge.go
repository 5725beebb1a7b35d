package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/opencode-nexus/nexus/internal/config"
	"github.com/opencode-nexus/nexus/internal/event"
	"github.com/opencode-nexus/nexus/internal/gateway"
	"github.com/opencode-nexus/nexus/internal/logging"
	"github.com/opencode-nexus/nexus/internal/session"
	"github.com/opencode-nexus/nexus/internal/stream"
	"github.com/opencode-nexus/nexus/internal/supervisor"
)

// Server is the bridge HTTP server. It holds no state of its own; every
// handler delegates to the component that owns the behavior.
type Server struct {
	cfg      config.BridgeConfig
	router   *chi.Mux
	httpSrv  *http.Server
	log      zerolog.Logger
	sup      *supervisor.Supervisor
	gw       *gateway.Gateway
	streamer *stream.Client
	sessions *session.Directory
	bus      *event.Bus
}

// New creates a bridge server wired to the daemon's components.
func New(cfg config.BridgeConfig, sup *supervisor.Supervisor, gw *gateway.Gateway, streamer *stream.Client, sessions *session.Directory, bus *event.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		log:      logging.With("bridge"),
		sup:      sup,
		gw:       gw,
		streamer: streamer,
		sessions: sessions,
		bus:      bus,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: SSE and WebSocket responses are long-lived.
	}
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("bridge listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
