// Package server is the daemon's HTTP surface: a chi router exposing the
// WebSocket session gateway, the hook ingest endpoint
// (§4.6), and a health check. Only the WebSocket route requires the bearer
// token; the hook endpoint and the health check are served without it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/auth"
	"github.com/robdel12/orbitdock/internal/connector"
	"github.com/robdel12/orbitdock/internal/hooks"
	"github.com/robdel12/orbitdock/internal/mcp"
	"github.com/robdel12/orbitdock/internal/permission"
	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/shellexec"
)

// Config holds the pieces of daemon config the server surface needs; it
// deliberately doesn't import internal/config to avoid a dependency cycle
// with cmd/orbitdockd, which wires both.
type Config struct {
	Port        int
	CORSOrigins []string
	Token       string
	Bins        connector.Binaries
}

// Server is the daemon's HTTP/WebSocket listener.
type Server struct {
	cfg     Config
	router  *chi.Mux
	httpSrv *http.Server

	registry *registry.Registry
	hooks    *hooks.Ingestor
	perms    *permission.Checker
	shell    *shellexec.Executor
	mcp      *mcp.Client

	upgrader websocket.Upgrader
}

// New wires a Server over an already-constructed registry/hooks/permission
// checker (built by cmd/orbitdockd, which owns their lifetimes). mcpClient
// may be nil when no MCP servers are configured.
func New(cfg Config, reg *registry.Registry, ingestor *hooks.Ingestor, perms *permission.Checker, shell *shellexec.Executor, mcpClient *mcp.Client) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		hooks:    ingestor,
		perms:    perms,
		shell:    shell,
		mcp:      mcpClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	s.router = r
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/api/hook", s.handleHook)
	s.router.Get("/ws", s.requireAuth(s.handleWebSocket))
}

// requireAuth wraps a handler with bearer-token validation against the
// per-install token persisted by internal/auth.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		candidate := auth.BearerFromHeader(r.Header.Get("Authorization"))
		if candidate == "" {
			candidate = r.URL.Query().Get("token")
		}
		if !auth.Validate(s.cfg.Token, candidate) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start serves HTTP until the process is killed or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
	}
	log.Info().Int("port", s.cfg.Port).Msg("orbitdockd listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests and WebSocket connections.
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
