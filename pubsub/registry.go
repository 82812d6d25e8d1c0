// File: pubsub/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry is the dual-indexed channel<->subscriber fanout (spec section
// 4.6). It follows the classic single-goroutine "hub" shape used throughout
// the retrieved corpus's own hub.go files: every mutation — subscribe,
// unsubscribe, publish, and inbound broker delivery — is a command enqueued
// onto one channel and drained by one goroutine, so the two index maps and
// the string intern pool (spec section 4.7) never need a lock.

package pubsub

import (
	"context"

	"github.com/corvidlabs/wsrelay/api"
	"go.uber.org/zap"
)

// Subscriber is the opaque client-side message sink spec section 3 and 4.6
// describe — in this server, one WebSocket connection.
type Subscriber interface {
	// SendText delivers a pre-encoded JSON envelope as a single text frame.
	SendText(payload []byte) error
}

type cmdKind int

const (
	cmdSubscribe cmdKind = iota
	cmdUnsubscribe
	cmdUnsubscribeAll
	cmdPublish
	cmdBrokerMessage
	cmdSync
)

type command struct {
	kind    cmdKind
	channel string
	sub     Subscriber
	payload []byte
	done    chan struct{}
}

// Registry owns the channel<->subscriber index and the broker connection.
// Construct with NewRegistry and start its hub with Run before use.
type Registry struct {
	broker api.Broker
	log    *zap.Logger

	pool *InternPool

	channelsToSubscribers map[*Interned]map[Subscriber]struct{}
	subscribersToChannels map[Subscriber]map[*Interned]struct{}

	cmds chan command
}

// NewRegistry constructs a Registry backed by broker. log may be nil, in
// which case a no-op logger is used.
func NewRegistry(broker api.Broker, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		broker:                broker,
		log:                   log,
		pool:                  NewInternPool(),
		channelsToSubscribers: make(map[*Interned]map[Subscriber]struct{}),
		subscribersToChannels: make(map[Subscriber]map[*Interned]struct{}),
		cmds:                  make(chan command, 256),
	}
	broker.OnMessage(r.onBrokerMessage)
	return r
}

// Run drains the command queue until ctx is canceled. It is the single loop
// thread spec section 5 requires for registry mutation; callers normally run
// it in its own goroutine.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.cmds:
			r.apply(c)
		}
	}
}

// Subscribe enqueues a subscription request; it returns immediately and is
// idempotent (spec section 4.6).
func (r *Registry) Subscribe(channel string, sub Subscriber) {
	r.cmds <- command{kind: cmdSubscribe, channel: channel, sub: sub}
}

// Unsubscribe enqueues an unsubscription request.
func (r *Registry) Unsubscribe(channel string, sub Subscriber) {
	r.cmds <- command{kind: cmdUnsubscribe, channel: channel, sub: sub}
}

// UnsubscribeAll enqueues removal of sub from every channel it holds,
// normally called on connection teardown.
func (r *Registry) UnsubscribeAll(sub Subscriber) {
	r.cmds <- command{kind: cmdUnsubscribeAll, sub: sub}
}

// Publish enqueues a PUBLISH to the broker; it is never delivered locally
// (spec section 4.6).
func (r *Registry) Publish(channel string, payload []byte) {
	r.cmds <- command{kind: cmdPublish, channel: channel, payload: payload}
}

// onBrokerMessage is the api.BrokerMessageFunc registered with the broker.
// It may be invoked from the broker's own goroutine, so it only enqueues.
func (r *Registry) onBrokerMessage(channel string, payload []byte) {
	r.cmds <- command{kind: cmdBrokerMessage, channel: channel, payload: payload}
}

func (r *Registry) apply(c command) {
	switch c.kind {
	case cmdSubscribe:
		r.applySubscribe(c.channel, c.sub)
	case cmdUnsubscribe:
		r.applyUnsubscribe(c.channel, c.sub)
	case cmdUnsubscribeAll:
		r.applyUnsubscribeAll(c.sub)
	case cmdPublish:
		r.applyPublish(c.channel, c.payload)
	case cmdBrokerMessage:
		r.applyBrokerMessage(c.channel, c.payload)
	case cmdSync:
		close(c.done)
	}
}

// Flush blocks until every command enqueued before this call has been
// applied by the hub goroutine. Tests use it to observe the effect of an
// async Subscribe/Unsubscribe/Publish call deterministically; it relies on
// the FIFO ordering of the cmds channel.
func (r *Registry) Flush() {
	done := make(chan struct{})
	r.cmds <- command{kind: cmdSync, done: done}
	<-done
}

func (r *Registry) applySubscribe(channel string, sub Subscriber) {
	ch := r.pool.Get(channel)

	subs, exists := r.subscribersToChannels[sub]
	if !exists {
		subs = make(map[*Interned]struct{})
		r.subscribersToChannels[sub] = subs
	}
	if _, already := subs[ch]; already {
		// Idempotent: release the extra ref Get just took.
		r.pool.Release(ch)
		return
	}

	chanSubs, chanExists := r.channelsToSubscribers[ch]
	wasEmpty := !chanExists || len(chanSubs) == 0
	if !chanExists {
		chanSubs = make(map[Subscriber]struct{})
		r.channelsToSubscribers[ch] = chanSubs
	}
	chanSubs[sub] = struct{}{}
	subs[ch] = struct{}{}

	if wasEmpty {
		// One extra reference for ch's own lifetime as a map key, per spec
		// section 3: refcount == len(subscribers) + 1 while keyed.
		ch.refs++
		if status := r.broker.Subscribe(channel); status != api.BrokerOK {
			r.log.Warn("broker subscribe failed", zap.String("channel", channel), zap.Stringer("status", status))
		}
	}
}

func (r *Registry) applyUnsubscribe(channel string, sub Subscriber) {
	ch := r.findInterned(channel)
	if ch == nil {
		return
	}
	r.detach(ch, sub)
}

func (r *Registry) applyUnsubscribeAll(sub Subscriber) {
	subs, ok := r.subscribersToChannels[sub]
	if !ok {
		return
	}
	for ch := range subs {
		r.detachChannel(ch, sub)
	}
	delete(r.subscribersToChannels, sub)
}

// detach removes the (channel, sub) edge looked up by name, releasing the
// pool ref taken for the lookup itself.
func (r *Registry) detach(ch *Interned, sub Subscriber) {
	r.detachChannel(ch, sub)
	if subs, ok := r.subscribersToChannels[sub]; ok && len(subs) == 0 {
		delete(r.subscribersToChannels, sub)
	}
	r.pool.Release(ch) // release the lookup ref from findInterned
}

// detachChannel removes the (ch, sub) edge assuming ch is already a live
// canonical pointer the caller owns a reference to (not released here).
func (r *Registry) detachChannel(ch *Interned, sub Subscriber) {
	chanSubs, ok := r.channelsToSubscribers[ch]
	if !ok {
		return
	}
	if _, present := chanSubs[sub]; !present {
		return
	}
	delete(chanSubs, sub)
	if subs, ok := r.subscribersToChannels[sub]; ok {
		delete(subs, ch)
	}
	r.pool.Release(ch) // the subscriber's own membership ref

	if len(chanSubs) == 0 {
		name := ch.String()
		delete(r.channelsToSubscribers, ch)
		r.pool.Release(ch) // drop the "keyed" reference taken in applySubscribe
		if status := r.broker.Unsubscribe(name); status != api.BrokerOK {
			r.log.Warn("broker unsubscribe failed", zap.String("channel", name), zap.Stringer("status", status))
		}
	}
}

func (r *Registry) applyPublish(channel string, payload []byte) {
	if status := r.broker.Publish(channel, payload); status != api.BrokerOK {
		r.log.Warn("broker publish failed", zap.String("channel", channel), zap.Stringer("status", status))
	}
}

func (r *Registry) applyBrokerMessage(channel string, payload []byte) {
	ch := r.findInterned(channel)
	if ch == nil {
		return
	}
	defer r.pool.Release(ch)

	subs, ok := r.channelsToSubscribers[ch]
	if !ok {
		return
	}
	envelope, err := EncodeOutbound(channel, payload)
	if err != nil {
		r.log.Warn("failed to encode outbound envelope", zap.Error(err))
		return
	}
	for sub := range subs {
		if err := sub.SendText(envelope); err != nil {
			r.log.Warn("failed to deliver to subscriber", zap.String("channel", channel), zap.Error(err))
		}
	}
}

// findInterned looks up channel by its canonical *Interned without creating
// a lasting entry for it: r.pool.Get is the single hash-bucket lookup spec
// section 4.6 requires (O(1) average), not a scan over every live channel.
// It returns a pool reference the caller must release, or nil if the channel
// has no live subscriber entry.
func (r *Registry) findInterned(channel string) *Interned {
	ch := r.pool.Get(channel)
	if _, ok := r.channelsToSubscribers[ch]; !ok {
		r.pool.Release(ch)
		return nil
	}
	return ch
}

// Snapshot returns a deep, caller-owned copy of the channel->subscriber
// counts for metrics/diagnostics. Calling it from outside the hub goroutine
// is only safe once every command enqueued so far is known to have been
// applied — e.g. immediately after Flush() returns, or before Run starts.
func (r *Registry) Snapshot() map[string]int {
	out := make(map[string]int, len(r.channelsToSubscribers))
	for ch, subs := range r.channelsToSubscribers {
		out[ch.String()] = len(subs)
	}
	return out
}
