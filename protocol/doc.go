// Package protocol implements the RFC 6455 WebSocket protocol engine: the
// HTTP upgrade handshake, the frame codec, message reassembly across
// continuation frames, and the control-frame (PING/PONG/CLOSE) plane.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The engine in this package is a pure state machine: it owns no socket and
// starts no goroutine. A caller (see package server) drives it by reading
// exactly Watermark() bytes and passing them to Feed, in a loop, on a single
// goroutine per connection — there is never more than one Feed call
// in flight for a given Engine.
package protocol
