// Package server exposes the conversation engine over HTTP.
//
// Routes:
//
//	POST /api/generate  submit one user message, returns {session_id, stage, response}
//	POST /api/clear     drop a session's history and counters
//	GET  /health        liveness probe
//
// /api/generate accepts either a JSON body or a form-encoded body with
// prompt and session_id fields. Turns on one session are serialized.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/entrhq/parley/pkg/agent"
	"github.com/entrhq/parley/pkg/logging"
	"github.com/entrhq/parley/pkg/session"
	"golang.org/x/sync/errgroup"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("server")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize server logger, using stderr fallback: %v", err)
	}
}

const (
	DefaultAddr            = ":8000"
	DefaultShutdownTimeout = 10 * time.Second

	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20
)

// Engine runs turns. *agent.Orchestrator implements it.
type Engine interface {
	SubmitTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
	ClearSession(ctx context.Context, id string) error
}

// Server is the HTTP front end of an Engine.
type Server struct {
	engine          Engine
	locks           *session.Locker
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithTimeouts sets the read and write timeouts of the HTTP server.
// Zero leaves a timeout unset.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.httpServer.ReadTimeout = read
		s.httpServer.WriteTimeout = write
	}
}

// WithShutdownTimeout bounds how long in-flight requests may run after
// the server is asked to stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// WithLocker shares a per-session locker with other front ends.
func WithLocker(l *session.Locker) Option {
	return func(s *Server) {
		s.locks = l
	}
}

// New creates a Server for engine.
func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:          engine,
		locks:           session.NewLocker(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	s.httpServer = &http.Server{
		Addr:              DefaultAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer.Handler = s.Handler()
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/clear", s.handleClear)
	mux.HandleFunc("GET /health", s.handleHealth)
	return loggingMiddleware(mux)
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		debugLog.Infof("Listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		debugLog.Infof("Shutting down HTTP server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		debugLog.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
