// Package server is the callback receiver: it completes pending tests when
// the remote system calls back and serves the query API over the same store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sadopc/hookwait/internal/config"
	"github.com/sadopc/hookwait/internal/core/eventlog"
	"github.com/sadopc/hookwait/internal/core/lifecycle"
	"github.com/sadopc/hookwait/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// ErrAddrInUse means another process already serves the callback port. That
// process shares the database, so callers may keep waiting without a server.
var ErrAddrInUse = errors.New("address already in use")

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// Server wires the HTTP routes, the event hub and the sweeper around one store.
type Server struct {
	cfg     config.Config
	store   *lifecycle.Store
	events  *eventlog.Correlator
	hub     *Hub
	metrics *metrics.Metrics
	sweeper *lifecycle.Sweeper
	engine  *gin.Engine
	log     *zap.Logger

	mu   sync.Mutex
	http *http.Server
	addr net.Addr
	done chan error
}

// New builds a server over store. Log entries are written to the same
// database and published to websocket subscribers.
func New(cfg config.Config, store *lifecycle.Store, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = metrics.New()
	s.hub = NewHub(s.log)
	s.events = eventlog.NewCorrelator(eventlog.NewStore(store.DB()),
		eventlog.WithPublisher(s.hub),
		eventlog.WithLogger(s.log))
	s.sweeper = lifecycle.NewSweeper(store,
		lifecycle.WithInterval(cfg.SweepInterval),
		lifecycle.WithRetention(cfg.Retention),
		lifecycle.WithRecorder(s.events),
		lifecycle.WithObserver(s.metrics),
		lifecycle.WithSweepLogger(s.log))
	s.log = s.log.With(zap.String("component", "server"))
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(s.log, s.metrics))

	h := &Handler{
		cfg:     s.cfg,
		store:   s.store,
		events:  s.events,
		hub:     s.hub,
		metrics: s.metrics,
		log:     s.log,
	}

	r.GET("/health", h.Health)
	r.GET("/webhook-url/:testId", h.WebhookURL)
	r.POST("/webhook/:testId", h.Callback)
	r.POST("/webhook/:testId/fail", h.Fail)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/stats", h.Stats)
		api.GET("/tests", h.ListTests)
		api.GET("/tests/:testId", h.GetTest)
		api.GET("/tests/:testId/logs", h.TestLogs)
		api.GET("/logs", h.ListLogs)
		api.GET("/events", h.Events)
	}
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Correlator returns the event log writer shared with the routes.
func (s *Server) Correlator() *eventlog.Correlator {
	return s.events
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener, starts the sweeper and serves in the background.
// It returns ErrAddrInUse when the port is taken.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("server already started")
	}

	addr := s.cfg.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrAddrInUse, addr)
		}
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan error, 1)
	s.sweeper.Start(ctx)

	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}(s.http, s.done)

	s.log.Info("Server starting",
		zap.String("addr", s.addr.String()),
		zap.String("webhook_base", s.cfg.PublicBaseURL()))
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and stops the
// sweeper. Event streams are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.http, s.done
	s.http, s.done = nil, nil
	s.mu.Unlock()

	s.sweeper.Stop()
	s.hub.Close()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if serveErr := <-done; serveErr != nil && err == nil {
		err = serveErr
	}
	s.log.Info("Server stopped")
	return err
}

// Run starts the server and blocks until ctx is cancelled or serving fails,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-done:
		// Serve already returned; put the result back for Shutdown.
		done <- err
		_ = s.Shutdown(context.Background())
		return err
	}
}
