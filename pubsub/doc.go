// Package pubsub implements the bi-directional channel<->subscriber fanout
// registry (spec section 4.6), its refcounted string intern pool (spec
// section 4.7), the JSON application envelope (spec section 6), and a Redis
// client adapter satisfying api.Broker.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// All registry mutation and broker-callback handling happens on a single
// goroutine — the "hub" run by Registry.Run — matching spec section 5's
// single-loop-thread model for shared state. Subscribers talk to the
// registry only through its channel-based API; there are no locks.
package pubsub
