// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package api serves the JSON HTTP API and the WebSocket endpoint clients
// use to follow a project's task updates.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/observability"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/store"
	"github.com/taskpulse/taskpulse/internal/task"
)

// Authenticator resolves a bearer token to a principal. *auth.Verifier
// implements it.
type Authenticator interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}

// UserStore looks up user rows. *store.Store implements it.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (store.User, error)
}

// Sessions runs an upgraded connection as a realtime session until it
// ends. *realtime.Hub implements it.
type Sessions interface {
	Accept(ctx context.Context, transport realtime.Transport, principal auth.Principal, projectID int64) error
}

// Deps are the collaborators the API serves.
type Deps struct {
	Tasks    *task.Service
	Users    UserStore
	Auth     Authenticator
	Throttle *auth.Throttle
	Sessions Sessions
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Config tunes the server.
type Config struct {
	Addr      string
	WebSocket realtime.WebSocketConfig
}

// Server is the public HTTP server.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "api")
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/users/me", s.handleMe)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Post("/{projectID}/members", s.handleAddMember)
			r.Put("/{projectID}/members/{userID}/role", s.handleSetMemberRole)
		})

		r.Route("/boards", func(r chi.Router) {
			r.Post("/", s.handleCreateBoard)
			r.Get("/", s.handleListBoards)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Get("/reminders/today", s.handleDueToday)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handlePatchTask)
				r.Put("/", s.handleReplaceTask)
				r.Put("/toggle", s.handleToggleTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/comments", s.handleAddComment)
				r.Get("/comments", s.handleListComments)
			})
		})

		r.Get("/ws/projects/{projectID}", s.handleWebSocket)
		r.Get("/ws/{userID}/{projectID}", s.handleLegacyWebSocket)
	})

	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving. The returned channel receives a serve error and is
// closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. WebSocket sessions see their context
// cancelled.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancelBase()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return oops.With("operation", "shutdown api server").Wrap(err)
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
