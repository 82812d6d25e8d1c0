// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn owns one accepted net.Conn and the protocol.Engine state machine
// driving it (spec section 3, "C5 Connection engine"). It is the socket
// owner the engine itself never is: the engine only ever sees exactly
// Watermark() bytes fed to it on this type's own read-loop goroutine, while
// an independent writer goroutine drains the outbound queue so a registry
// fanout delivery (pubsub.Subscriber.SendText, called from the hub
// goroutine) never blocks on a slow peer's socket.

package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvidlabs/wsrelay/api"
	"github.com/corvidlabs/wsrelay/protocol"
	"github.com/corvidlabs/wsrelay/pubsub"
	"go.uber.org/zap"
)

type connStats struct {
	framesOut      uint64
	bytesIn        uint64
	bytesOut       uint64
	protocolErrors uint64
}

// Conn implements pubsub.Subscriber; the registry holds connections only
// through that interface.
type Conn struct {
	id     uint64
	conn   net.Conn
	br     *bufio.Reader
	engine *protocol.Engine

	registry *pubsub.Registry
	cfg      *Config
	log      *zap.Logger

	out    *outQueue
	notify chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	stats connStats
}

func newConn(netConn net.Conn, id uint64, registry *pubsub.Registry, cfg *Config) *Conn {
	c := &Conn{
		id:       id,
		conn:     netConn,
		registry: registry,
		cfg:      cfg,
		log:      cfg.Log,
		out:      newOutQueue(256),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	c.engine = protocol.NewEngine(c.onMessage)
	return c
}

// ID is the connection's process-local identifier, used for logging and
// Stats() enumeration.
func (c *Conn) ID() uint64 { return c.id }

// SendText implements pubsub.Subscriber: it encodes payload as a single
// text frame and enqueues it for the writer goroutine. It never blocks on
// the socket.
func (c *Conn) SendText(payload []byte) error {
	frame := protocol.EncodeFrame(protocol.OpcodeText, payload)
	if !c.out.push(frame) {
		return api.NewError(api.ErrCodeTransient, fmt.Errorf("server: outbound queue full for connection %d", c.id))
	}
	c.signal()
	return nil
}

func (c *Conn) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// serve runs the handshake, then the watermark read loop, until the engine
// closes or the socket errors. It is the engine's sole owner: Feed,
// ShouldKeepAlive and NextPing are only ever called from this goroutine, so
// keep-alive is driven by readExact's deadline below rather than by a
// separate ticker goroutine racing this one on c.engine (spec section 5).
// SendText and writeLoop only ever touch the outbound queue.
func (c *Conn) serve() {
	defer c.Close()

	go c.writeLoop()

	if err := c.handshake(); err != nil {
		c.log.Info("handshake rejected", zap.Uint64("conn_id", c.id), zap.Error(err))
		return
	}

	lastActivity := time.Now()
	for {
		if c.engine.State() == protocol.StateClosed {
			return
		}
		w := c.engine.Watermark()
		if w == 0 {
			if _, err := c.feedWatermark(nil); err != nil {
				return
			}
			continue
		}

		buf := c.cfg.Buffers.Get(w)
		if err := c.readExact(buf.Bytes(), &lastActivity); err != nil {
			buf.Release()
			return
		}
		atomic.AddUint64(&c.stats.bytesIn, uint64(w))
		_, err := c.feedWatermark(buf.Bytes())
		buf.Release()
		if err != nil {
			return
		}
	}
}

// readExact fills buf completely from the connection, treating each
// PingPeriod read-deadline expiry as a keep-alive trigger rather than a dead
// connection: it emits a PING (the engine call is safe here because this is
// the engine's only caller) and keeps waiting, up to ReadIdleTimeout of
// total silence since the last byte actually arrived. It reads through c.br
// rather than c.conn directly so bytes already buffered during the HTTP
// handshake read are never dropped.
func (c *Conn) readExact(buf []byte, lastActivity *time.Time) error {
	read := 0
	for read < len(buf) {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PingPeriod)); err != nil {
			return err
		}
		n, err := c.br.Read(buf[read:])
		read += n
		if n > 0 {
			*lastActivity = time.Now()
		}
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if time.Since(*lastActivity) >= c.cfg.ReadIdleTimeout {
				return err
			}
			if c.engine.ShouldKeepAlive() {
				if !c.out.push(c.engine.NextPing()) {
					c.log.Warn("ping dropped, outbound queue full", zap.Uint64("conn_id", c.id))
				} else {
					c.signal()
				}
			}
			continue
		}
		return err
	}
	return nil
}

func (c *Conn) feedWatermark(buf []byte) ([]byte, error) {
	reply, err := c.engine.Feed(buf)
	if err != nil {
		atomic.AddUint64(&c.stats.protocolErrors, 1)
		c.log.Warn("protocol error", zap.Uint64("conn_id", c.id), zap.Error(err))
		return nil, err
	}
	if reply != nil {
		if !c.out.push(reply) {
			return nil, api.NewError(api.ErrCodeTransient, fmt.Errorf("server: outbound queue full for connection %d", c.id))
		}
		c.signal()
	}
	return reply, nil
}

// onMessage is protocol.MessageFunc: it runs synchronously from Feed, on
// this connection's own goroutine, so it must never block.
func (c *Conn) onMessage(isBinary bool, data []byte) {
	if isBinary {
		c.log.Warn("binary message dropped, envelope is text-only", zap.Uint64("conn_id", c.id))
		return
	}
	in, err := pubsub.DecodeInbound(data)
	if err != nil {
		c.log.Warn("invalid application envelope", zap.Uint64("conn_id", c.id), zap.Error(err))
		return
	}
	switch in.Action {
	case pubsub.ActionSubscribe:
		c.registry.Subscribe(in.Key, c)
	case pubsub.ActionUnsubscribe:
		c.registry.Unsubscribe(in.Key, c)
	case pubsub.ActionPublish:
		c.registry.Publish(in.Key, []byte(in.Data))
	}
}

func (c *Conn) handshake() error {
	c.br = bufio.NewReader(c.conn)
	req, err := http.ReadRequest(c.br)
	if err != nil {
		return err
	}
	result := protocol.ValidateHandshake(req)
	if err := protocol.WriteResponse(c.conn, result); err != nil {
		return err
	}
	if !result.Accepted {
		return fmt.Errorf("server: handshake rejected with status %d", result.StatusCode)
	}
	c.engine.CompleteHandshake()
	return nil
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case <-c.notify:
		}
		for {
			frame, ok := c.out.pop()
			if !ok {
				break
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.log.Warn("write failed", zap.Uint64("conn_id", c.id), zap.Error(err))
				c.Close()
				return
			}
			atomic.AddUint64(&c.stats.framesOut, 1)
			atomic.AddUint64(&c.stats.bytesOut, uint64(len(frame)))
		}
	}
}

// Close tears the connection down exactly once: the socket is closed, the
// writer goroutine exits, and the registry drops every channel this
// connection held (spec section 3's "owned by the connection registry"
// teardown invariant).
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.registry.UnsubscribeAll(c)
		_ = c.conn.Close()
	})
	return nil
}
