// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server is the facade tying the accept loop, the protocol engine (package
// protocol), and the pub/sub fanout registry (package pubsub) together,
// following the teacher's own server.Server/NewServer/Run/Shutdown shape.

package server

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync/atomic"

	"github.com/corvidlabs/wsrelay/api"
	"github.com/corvidlabs/wsrelay/internal/affinity"
	"github.com/corvidlabs/wsrelay/pubsub"
	"go.uber.org/zap"
)

// Server accepts TCP connections, performs the WebSocket upgrade, and
// drives each one's protocol.Engine, while sharing one pubsub.Registry
// across all of them for channel fanout.
type Server struct {
	cfg      *Config
	broker   api.Broker
	registry *pubsub.Registry
	conns    *connTable
	listener net.Listener

	nextID   uint64
	shutdown chan struct{}
}

// NewServer dials the configured Redis broker and constructs the fanout
// registry. The registry's hub goroutine is not started until
// ListenAndServe runs.
func NewServer(ctx context.Context, cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Port <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument,
			fmt.Errorf("%w: port must be positive (got %d)", api.ErrInvalidArgument, cfg.Port))
	}
	if cfg.Host == "" {
		return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Errorf("%w: host must not be empty", api.ErrInvalidArgument))
	}

	broker, err := pubsub.NewRedisBroker(ctx, cfg.BrokerAddr, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("server: dialing broker at %s: %w", cfg.BrokerAddr, err)
	}

	return newServerWithBroker(broker, cfg), nil
}

// newServerWithBroker builds a Server around an already-connected broker,
// letting tests substitute pubsub.FakeBroker for a real Redis dial.
func newServerWithBroker(broker api.Broker, cfg *Config) *Server {
	return &Server{
		cfg:      cfg,
		broker:   broker,
		registry: pubsub.NewRegistry(broker, cfg.Log),
		conns:    newConnTable(),
		shutdown: make(chan struct{}),
	}
}

// ListenAndServe binds the configured host:port, starts the registry hub
// goroutine, and accepts connections until ctx is canceled or Shutdown is
// called. It blocks until the accept loop has fully drained.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.runHub(hubCtx)

	s.cfg.Log.Info("listening", zap.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			s.cfg.Log.Warn("accept failed", zap.Error(err))
			continue
		}
		id := atomic.AddUint64(&s.nextID, 1)
		c := newConn(conn, id, s.registry, s.cfg)
		s.conns.add(c)
		go func() {
			defer s.conns.remove(c)
			defer func() {
				if r := recover(); r != nil {
					s.cfg.Log.Error("connection panic recovered", zap.Uint64("conn_id", c.id), zap.Any("panic", r))
				}
			}()
			c.serve()
		}()
	}
}

// runHub pins the hub goroutine's OS thread (if configured) and runs the
// registry's command loop for the server's lifetime.
func (s *Server) runHub(ctx context.Context) {
	if s.cfg.PinCPU >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.Pin(s.cfg.PinCPU); err != nil {
			s.cfg.Log.Warn("cpu pinning failed", zap.Int("cpu", s.cfg.PinCPU), zap.Error(err))
		}
	}
	s.registry.Run(ctx)
}

// Shutdown stops accepting new connections, closes every live connection
// (which unsubscribes it from every channel), and releases the broker
// client. It does not send a CLOSE frame to peers (spec.md section 9 omits
// it deliberately).
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.conns.closeAll()
	return s.broker.Close()
}

// Stats returns a point-in-time snapshot of process-wide counters.
func (s *Server) Stats() Stats {
	return s.conns.snapshot()
}
