// Package server exposes the pipeline over HTTP and streams job progress to
// WebSocket clients.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/pipeline"
	"github.com/teranos/intake/pulse/async"
)

const maxRequestBytes = 1 << 20

// Options are the optional parts of a server
type Options struct {
	// AllowedOrigins are origin prefixes accepted for CORS and WebSocket upgrades
	AllowedOrigins []string
	// Queue reports task counts on /health
	Queue *async.Queue
	// Workers is started with the server and stopped on shutdown
	Workers *async.WorkerPool
}

// Server is the HTTP surface of intake
type Server struct {
	svc      *pipeline.Service
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	httpServer *http.Server
	state      atomic.Int32
}

// New creates a server; hub must be the emitter the pipeline publishes to
func New(svc *pipeline.Service, hub *Hub, opts Options, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		svc:    svc,
		hub:    hub,
		opts:   opts,
		logger: logger.Named("server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("Server state changed", "new_state", state.String())
}

// Serve starts the workers and serves HTTP on l until Shutdown
func (s *Server) Serve(l net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.opts.Workers != nil {
		s.opts.Workers.Start()
		s.logger.Infow("Workers started", "workers", s.opts.Workers.Workers())
	}
	s.setState(ServerStateRunning)
	s.logger.Infow("HTTP server listening", "addr", l.Addr().String())

	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and calls Serve
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests, stops the workers and disconnects
// WebSocket clients. Running stages are cancelled and rerun on next start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = errors.Wrap(shutdownErr, "http shutdown")
		}
	}
	if s.opts.Workers != nil {
		s.logger.Infow("Stopping workers")
		s.opts.Workers.Stop()
	}
	s.hub.Close()

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "broadcast_drops", s.hub.Drops())
	return err
}
