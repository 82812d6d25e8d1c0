// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Config and ServerOption follow the teacher's server/options.go shape: a
// plain struct with a DefaultConfig constructor, customized by a slice of
// functional options applied in NewServer.

package server

import (
	"time"

	"github.com/corvidlabs/wsrelay/api"
	"github.com/corvidlabs/wsrelay/pool"
	"github.com/corvidlabs/wsrelay/protocol"
	"go.uber.org/zap"
)

// TLSConfig carries the CLI-surface TLS fields (spec.md section 6). Nothing in
// this module reads them: the listener is plain TCP and no TLS handshake is
// performed, by this package or by cmd/wsrelay.
type TLSConfig struct {
	CertPath     string
	KeyPath      string
	DHParamsPath string
	Ciphers      []string
}

// Config holds every tunable of the WebSocket relay server.
type Config struct {
	Host string
	Port int

	BrokerAddr string

	// MaxFramePayload records the frame size limit; the engine always
	// enforces protocol.MaxFramePayload and does not read this field.
	MaxFramePayload int
	PingPeriod      time.Duration
	ReadIdleTimeout time.Duration

	PinCPU int // -1 disables CPU pinning for the registry hub goroutine

	TLS *TLSConfig

	Log *zap.Logger

	// Buffers backs every connection's watermark read buffer; defaults to a
	// process-wide pool.SlabPool shared across connections.
	Buffers api.BufferPool
}

// DefaultConfig returns the spec.md section 6 defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            9999,
		BrokerAddr:      "localhost:6379",
		MaxFramePayload: protocol.MaxFramePayload,
		PingPeriod:      protocol.PingPeriod * time.Second,
		ReadIdleTimeout: protocol.ReadIdleTimeout * time.Second,
		PinCPU:          -1,
		Log:             zap.NewNop(),
		Buffers:         pool.NewSlabPool(),
	}
}

// ServerOption customizes a Config at construction time.
type ServerOption func(*Config)

// WithHostPort overrides the bind address.
func WithHostPort(host string, port int) ServerOption {
	return func(c *Config) {
		c.Host = host
		c.Port = port
	}
}

// WithBroker overrides the Redis pub/sub broker address.
func WithBroker(addr string) ServerOption {
	return func(c *Config) {
		c.BrokerAddr = addr
	}
}

// WithLogger attaches a structured logger; a nil logger is replaced with
// zap.NewNop() so the rest of the library never branches on nil.
func WithLogger(log *zap.Logger) ServerOption {
	return func(c *Config) {
		if log == nil {
			log = zap.NewNop()
		}
		c.Log = log
	}
}

// WithPingPeriod overrides the keep-alive PING cadence.
func WithPingPeriod(d time.Duration) ServerOption {
	return func(c *Config) {
		c.PingPeriod = d
	}
}

// WithReadIdleTimeout overrides how long a connection may go without read
// activity before being treated as dead.
func WithReadIdleTimeout(d time.Duration) ServerOption {
	return func(c *Config) {
		c.ReadIdleTimeout = d
	}
}

// WithPinCPU pins the registry hub goroutine to a logical CPU core.
func WithPinCPU(cpuID int) ServerOption {
	return func(c *Config) {
		c.PinCPU = cpuID
	}
}

// WithTLS stores TLS parameters in Config.TLS; the server does not read
// them and serves plain TCP.
func WithTLS(tls *TLSConfig) ServerOption {
	return func(c *Config) {
		c.TLS = tls
	}
}
