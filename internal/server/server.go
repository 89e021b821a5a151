// Package server is the cart server: the real-time store the storefront's
// websocket channel talks to. Carts are read and mutated over REST and
// streamed as full snapshots over a websocket per subscriber.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/realtime"
)

// Config holds server configuration
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// Streams
	OutboundBuffer int           `yaml:"outbound_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`

	// HTTP
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8080",
		OutboundBuffer:    64,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		MaxBodyBytes:      64 << 10,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type Server struct {
	cfg      Config
	db       *realtime.Database
	verifier Verifier
	logger   log.Log
	upgrader websocket.Upgrader
	router   chi.Router

	running atomic.Bool
	closed  atomic.Bool
	http    *http.Server
	addr    net.Addr
	serveWG sync.WaitGroup

	streamsMu sync.Mutex
	streams   map[*stream]struct{}
}

func New(cfg Config, db *realtime.Database, verifier Verifier, logger log.Log) *Server {
	def := DefaultServerConfig()
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = def.OutboundBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	s := &Server{
		cfg:      cfg,
		db:       db,
		verifier: verifier,
		logger:   log.OrNop(logger).With(log.Component("server")),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		streams:  make(map[*stream]struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/v1/carts/{uid}", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleGetCart)
		r.Get("/ws", s.handleStream)
		r.Put("/items/{productID}", s.handleSetLine)
		r.Patch("/items/{productID}", s.handleUpdateQuantity)
		r.Delete("/items/{productID}", s.handleRemoveLine)
	})
	return r
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on cfg.ListenAddr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.String("addr", s.cfg.ListenAddr), log.Error(err))
		return errors.Join(ErrListenerFailed, err)
	}
	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", s.addr.String()))
	return nil
}

// Addr is the bound address once Start returned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Stop closes open streams and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.closed.Store(true)
	s.logger.Info("Stopping server")

	s.streamsMu.Lock()
	for st := range s.streams {
		st.stop()
	}
	s.streamsMu.Unlock()

	err := s.http.Shutdown(ctx)
	s.serveWG.Wait()
	s.logger.Info("Server stopped")
	return err
}

func (s *Server) track(st *stream) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	s.streams[st] = struct{}{}
}

func (s *Server) untrack(st *stream) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	delete(s.streams, st)
}

// StreamCount is the number of open snapshot streams.
func (s *Server) StreamCount() int {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	return len(s.streams)
}
