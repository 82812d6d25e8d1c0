// File: pubsub/broker_redis.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RedisBroker adapts a github.com/redis/go-redis/v9 client to api.Broker,
// the concrete backend for spec section 6's external pub/sub broker
// (grounded in the original system's name, b-xiang/redis-websocket-pubsub,
// and in the pack's own Redis-backed pub/sub repos).

package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/corvidlabs/wsrelay/api"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements api.Broker over a single *redis.Client connection
// plus one *redis.PubSub subscription multiplexing every subscribed
// channel.
type RedisBroker struct {
	client *redis.Client
	log    *zap.Logger

	mu   sync.Mutex
	sub  *redis.PubSub
	ctx  context.Context
	stop context.CancelFunc

	connected atomic.Bool
	handler   atomic.Pointer[api.BrokerMessageFunc]
}

// NewRedisBroker dials addr (host:port) and starts the receive loop. The
// connection is considered established only once a PING succeeds; callers
// should treat a non-nil error as a fatal startup condition (spec section 6
// CLI surface: "non-zero on fatal configuration or bind errors").
func NewRedisBroker(ctx context.Context, addr string, log *zap.Logger) (*RedisBroker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, api.NewError(api.ErrCodeDisconnected, fmt.Errorf("%w: %s: %v", api.ErrDisconnected, addr, err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	b := &RedisBroker{
		client: client,
		log:    log,
		sub:    client.Subscribe(runCtx),
		ctx:    runCtx,
		stop:   cancel,
	}
	b.connected.Store(true)
	go b.receiveLoop()
	return b, nil
}

func (b *RedisBroker) receiveLoop() {
	ch := b.sub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.connected.Store(false)
				return
			}
			if fn := b.handler.Load(); fn != nil {
				(*fn)(msg.Channel, []byte(msg.Payload))
			}
		}
	}
}

// OnMessage registers the callback invoked for every inbound message.
func (b *RedisBroker) OnMessage(fn api.BrokerMessageFunc) {
	b.handler.Store(&fn)
}

// Publish issues a Redis PUBLISH.
func (b *RedisBroker) Publish(channel string, payload []byte) api.BrokerStatus {
	if !b.connected.Load() {
		return api.BrokerDisconnected
	}
	if err := b.client.Publish(b.ctx, channel, payload).Err(); err != nil {
		b.log.Warn("redis publish failed", zap.String("channel", channel), zap.Error(err))
		return api.BrokerTransportError
	}
	return api.BrokerOK
}

// Subscribe adds channel to the shared *redis.PubSub subscription.
func (b *RedisBroker) Subscribe(channel string) api.BrokerStatus {
	if !b.connected.Load() {
		return api.BrokerDisconnected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.sub.Subscribe(b.ctx, channel); err != nil {
		b.log.Warn("redis subscribe failed", zap.String("channel", channel), zap.Error(err))
		return api.BrokerTransportError
	}
	return api.BrokerOK
}

// Unsubscribe removes channel from the shared subscription.
func (b *RedisBroker) Unsubscribe(channel string) api.BrokerStatus {
	if !b.connected.Load() {
		return api.BrokerDisconnected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.sub.Unsubscribe(b.ctx, channel); err != nil {
		b.log.Warn("redis unsubscribe failed", zap.String("channel", channel), zap.Error(err))
		return api.BrokerTransportError
	}
	return api.BrokerOK
}

// Connected reports whether the receive loop is still attached.
func (b *RedisBroker) Connected() bool {
	return b.connected.Load()
}

// Close tears down the subscription and the underlying client.
func (b *RedisBroker) Close() error {
	b.stop()
	b.connected.Store(false)
	_ = b.sub.Close()
	return b.client.Close()
}
