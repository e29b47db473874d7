// Package server exposes the task store and sync control over HTTP.
//
// Task CRUD and sync routes live under /api; /ws streams task and sync
// events to connected WebSocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/tasks"
)

// Syncer runs a reconciliation on demand. *reconcile.Engine satisfies it.
type Syncer interface {
	Reconcile(ctx context.Context) (*reconcile.Result, error)
}

// Prober reports whether the authority is reachable.
// *authority.Client satisfies it.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (default: 3000, 0 picks a free port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   3000,
		Logger: log.New(os.Stderr, "[server] ", log.LstdFlags),
	}
}

// Deps are the components the routes are served from. Only Tasks is
// required: without Engine, POST /api/sync answers 503; without Applier,
// POST /api/batch answers 404.
type Deps struct {
	Tasks     *tasks.Repository
	Engine    Syncer
	Authority Prober
	Applier   *authority.Applier

	// OnMutation is called after every successful local mutation
	OnMutation func()
}

// Server is the HTTP API server.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	router   chi.Router
	hub      *Hub
	deps     Deps
	logger   *log.Logger

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a server and builds its routes.
func New(config *Config, deps Deps) (*Server, error) {
	if deps.Tasks == nil {
		return nil, fmt.Errorf("task repository cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	s := &Server{
		addr:   net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		hub:    NewHub(config.Logger),
		deps:   deps,
		logger: config.Logger,
	}
	s.hub.welcome = s.statusMessage
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{id}", s.handleGetTask)
			r.Put("/{id}", s.handleUpdateTask)
			r.Delete("/{id}", s.handleDeleteTask)
			r.Post("/{id}/requeue", s.handleRequeueTask)
		})

		r.Post("/sync", s.handleSync)
		r.Get("/status", s.handleStatus)
		r.Post("/batch", s.handleBatch)
	})
	r.Get("/ws", s.hub.ServeWS)

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the live feed hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Println("Stopping server")
		s.hub.Close()

		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := s.server.Shutdown(ctx); serr != nil {
				err = fmt.Errorf("server shutdown error: %w", serr)
			}
		}

		s.wg.Wait()
		s.logger.Println("Server stopped")
	})
	return err
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) statusMessage(ctx context.Context) (Message, bool) {
	report, err := s.deps.Tasks.Status(ctx)
	if err != nil {
		s.logger.Printf("Failed to build status for new client: %v", err)
		return Message{}, false
	}
	data, err := marshal(report)
	if err != nil {
		return Message{}, false
	}
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data}, true
}

func (s *Server) mutated() {
	if s.deps.OnMutation != nil {
		s.deps.OnMutation()
	}
}
