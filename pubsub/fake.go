// File: pubsub/fake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FakeBroker is an in-memory api.Broker used by tests in this package and in
// package server, following the teacher's fake/ package convention of
// hand-written fakes in place of a mocking framework.

package pubsub

import (
	"sync"

	"github.com/corvidlabs/wsrelay/api"
)

// FakeBroker records every call it receives and never talks to a real
// transport. It starts connected; tests can flip Disconnected to exercise
// the DISCONNECTED path.
type FakeBroker struct {
	mu            sync.Mutex
	Disconnected  bool
	Subscribed    map[string]int
	Published     []FakePublish
	handler       api.BrokerMessageFunc
}

// FakePublish records one Publish call.
type FakePublish struct {
	Channel string
	Payload []byte
}

// NewFakeBroker constructs a connected FakeBroker.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{Subscribed: make(map[string]int)}
}

func (b *FakeBroker) Publish(channel string, payload []byte) api.BrokerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Disconnected {
		return api.BrokerDisconnected
	}
	b.Published = append(b.Published, FakePublish{Channel: channel, Payload: append([]byte(nil), payload...)})
	return api.BrokerOK
}

func (b *FakeBroker) Subscribe(channel string) api.BrokerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Disconnected {
		return api.BrokerDisconnected
	}
	b.Subscribed[channel]++
	return api.BrokerOK
}

func (b *FakeBroker) Unsubscribe(channel string) api.BrokerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Disconnected {
		return api.BrokerDisconnected
	}
	b.Subscribed[channel]--
	if b.Subscribed[channel] <= 0 {
		delete(b.Subscribed, channel)
	}
	return api.BrokerOK
}

func (b *FakeBroker) OnMessage(fn api.BrokerMessageFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// Deliver simulates an inbound broker message for channel, as if a remote
// publisher had sent it.
func (b *FakeBroker) Deliver(channel string, payload []byte) {
	b.mu.Lock()
	fn := b.handler
	b.mu.Unlock()
	if fn != nil {
		fn(channel, payload)
	}
}

func (b *FakeBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.Disconnected
}

func (b *FakeBroker) Close() error {
	return nil
}
