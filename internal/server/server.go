package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/persist"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/telemetry"
)

// Deps are the collaborators a Server is built from. Nil fields get
// development defaults.
type Deps struct {
	Verifier auth.Verifier
	Appender persist.Appender
	Metrics  *telemetry.Metrics
}

// Server owns the relay engine and the HTTP surface in front of it.
type Server struct {
	cfg        Config
	verifier   auth.Verifier
	registry   *relay.Registry
	dispatcher *relay.Dispatcher
	gateway    *persist.Gateway
	origins    *originPolicy
	upgrader   websocket.Upgrader
	httpServer *http.Server

	// ctx scopes client goroutines; it is cancelled by Stop.
	ctx     context.Context
	cancel  context.CancelFunc
	clients sync.WaitGroup
	stopped chan struct{}
	// mu guards running and stopping; sessions are only attached while
	// holding it with stopping unset.
	running  bool
	stopping bool
	mu       sync.Mutex
}

// New builds a server from cfg. Nothing is started until Start or Serve.
func New(cfg Config, deps Deps) *Server {
	cfg = sanitizeConfig(cfg)

	if deps.Verifier == nil {
		deps.Verifier = auth.NewJWTVerifier(cfg.Auth)
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.Global()
	}

	gateway := persist.NewGateway(cfg.Persist, deps.Appender, deps.Metrics)
	registry := relay.NewRegistry(cfg.Relay, gateway, deps.Metrics)
	dispatcher := relay.NewDispatcher(cfg.Relay, registry, deps.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		verifier:   deps.Verifier,
		registry:   registry,
		dispatcher: dispatcher,
		gateway:    gateway,
		origins:    newOriginPolicy(cfg.AllowedOrigins),
		ctx:        ctx,
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.httpServer = CreateServer(cfg.Port, s.Routes())
	return s
}

// attach opens a session for conn and starts its goroutines. It refuses once
// Stop has begun so no client goroutine is added after Stop waits for them.
func (s *Server) attach(identity relay.Identity, conn *websocket.Conn, addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}

	session := s.dispatcher.Open(identity, newWSConn(conn, addr))
	client := newClient(conn, session, s.dispatcher, addr, s.cfg)

	s.clients.Add(2)
	go func() {
		defer s.clients.Done()
		_ = session.Drain(s.ctx)
	}()
	go func() {
		defer s.clients.Done()
		client.readPump(s.ctx)
	}()
	return true
}

// Dispatcher returns the relay dispatcher.
func (s *Server) Dispatcher() *relay.Dispatcher { return s.dispatcher }

// Gateway returns the persistence gateway.
func (s *Server) Gateway() *persist.Gateway { return s.gateway }

// CreateServer creates and configures an HTTP server with the specified port and handler.
// WebSocket connections are hijacked, so the timeouts only bound plain HTTP requests.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start listens on the configured port and serves until Stop is called or a
// component fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Port, err)
	}
	return s.Serve(ln)
}

// Serve runs the dispatcher, the persistence workers and the HTTP server on
// ln. It blocks until Stop is called or one of them fails.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer close(s.stopped)

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return s.gateway.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("[server] Listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[server] HTTP server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop shuts the server down: it stops accepting connections, closes every
// session, waits for client goroutines and flushes the persistence queue.
// It returns ctx.Err if the deadline passes first.
func (s *Server) Stop(ctx context.Context) error {
	log.Println("[server] Shutting down...")
	s.mu.Lock()
	s.stopping = true
	running := s.running
	s.mu.Unlock()
	s.cancel()
	if running {
		select {
		case <-s.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		s.clients.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.gateway.Close(ctx); err != nil {
		return fmt.Errorf("close persistence: %w", err)
	}
	log.Println("[server] Shutdown completed")
	return nil
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
