//go:build linux

// Package server wires config, worker pool, reactor and HTTP handler
// into a static file server.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/s00inx/webserver/server/config"
	"github.com/s00inx/webserver/server/engine"
	"github.com/s00inx/webserver/server/protocol"
)

var ErrServerClosed = errors.New("server closed")

// New()               - build handler from config, files and mime table
// Serve(ctx, lfd)     - pool + reactor over listening fd, blocks until ctx is done
// ServeListener(...)  - same for a net.Listener, fd is duplicated
// ListenAndServe(...) - open listening socket and Serve on it
// Port()              - local port once serving
type Server struct {
	cfg     config.Config
	handler *protocol.Handler
	log     *slog.Logger

	mu      sync.Mutex
	port    int
	ready   chan struct{}
	started bool
	stats   engine.PoolStats
}

func New(cfg config.Config, files fs.FS, mime *protocol.MimeTypes, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	h := protocol.NewHandler(files, mime, log)
	h.KeepAliveTimeout = cfg.Timeouts.KeepAlive.Std()
	h.MaxRequestSize = cfg.MaxRequestSize

	return &Server{
		cfg:     cfg,
		handler: h,
		log:     log,
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once listener is registered and requests are served
func (srv *Server) Ready() <-chan struct{} { return srv.ready }

func (srv *Server) Port() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.port
}

// Stats of the worker pool after Serve returned
func (srv *Server) Stats() engine.PoolStats {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.stats
}

// Serve owns lfd: it is closed when Serve returns. shutdown order is
// reactor loop, then pool (queued tasks are dropped), then sessions
func (srv *Server) Serve(ctx context.Context, lfd int) error {
	srv.mu.Lock()
	if srv.started {
		srv.mu.Unlock()
		unix.Close(lfd)
		return ErrServerClosed
	}
	srv.started = true
	srv.mu.Unlock()

	cfg := srv.cfg
	pool, err := engine.NewPool(cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers, cfg.Pool.QueueSize, engine.PoolOptions{
		AdjustInterval: cfg.Pool.AdjustInterval.Std(),
		Logger:         srv.log,
	})
	if err != nil {
		unix.Close(lfd)
		return fmt.Errorf("worker pool: %w", err)
	}

	r, err := engine.NewReactor(lfd, pool, srv.handler.Serve, engine.Options{
		MaxEvents:        cfg.MaxEvents,
		Tick:             cfg.Timeouts.Tick.Std(),
		ConnTimeout:      cfg.Timeouts.Conn.Std(),
		KeepAliveTimeout: cfg.Timeouts.KeepAlive.Std(),
		SubmitTimeout:    cfg.Timeouts.Submit.Std(),
		Logger:           srv.log,
	})
	if err != nil {
		pool.Close()
		unix.Close(lfd)
		return err
	}

	port, err := engine.LocalPort(lfd)
	if err != nil {
		srv.log.Warn("local port unknown", "err", err)
	}
	srv.mu.Lock()
	srv.port = port
	srv.mu.Unlock()

	srv.log.Info("server started", "port", port, "root", cfg.Root,
		"min_workers", cfg.Pool.MinWorkers, "max_workers", cfg.Pool.MaxWorkers)
	close(srv.ready)

	runErr := r.Run(ctx)

	stats := pool.Close()
	if err := r.Shutdown(); err != nil {
		srv.log.Warn("reactor shutdown", "err", err)
	}

	srv.mu.Lock()
	srv.stats = stats
	srv.mu.Unlock()

	srv.log.Info("server stopped", "discarded", stats.Discarded)
	return runErr
}

// ServeListener serves on a duplicate of l's descriptor, l itself is closed
func (srv *Server) ServeListener(ctx context.Context, l net.Listener) error {
	lfd, err := engine.ListenerFd(l)
	l.Close()
	if err != nil {
		return err
	}
	return srv.Serve(ctx, lfd)
}

func (srv *Server) ListenAndServe(ctx context.Context, addr [4]byte, port int) error {
	lfd, err := engine.ListenTCP(addr, port)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, lfd)
}
