// File: pubsub/envelope.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The JSON application envelope carried over WebSocket text frames (spec
// section 6): inbound {"action","key","data"} commands and outbound
// {"key","data"} fanout messages.

package pubsub

import (
	"encoding/json"
	"errors"
)

// Action identifies the verb of an inbound envelope.
type Action string

const (
	ActionPublish     Action = "pub"
	ActionSubscribe   Action = "sub"
	ActionUnsubscribe Action = "unsub"
)

// ErrInvalidEnvelope is returned when an inbound text message does not match
// the application envelope shape (spec section 6); callers should drop the
// message with a warning rather than close the connection.
var ErrInvalidEnvelope = errors.New("pubsub: invalid application envelope")

// Inbound is one decoded client command.
type Inbound struct {
	Action Action
	Key    string
	Data   string
}

type inboundWire struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Data   string `json:"data,omitempty"`
}

// DecodeInbound parses a text message into an Inbound command. action and
// key are mandatory; data is mandatory only for "pub".
func DecodeInbound(msg []byte) (*Inbound, error) {
	var w inboundWire
	if err := json.Unmarshal(msg, &w); err != nil {
		return nil, ErrInvalidEnvelope
	}
	action := Action(w.Action)
	switch action {
	case ActionPublish, ActionSubscribe, ActionUnsubscribe:
	default:
		return nil, ErrInvalidEnvelope
	}
	if w.Key == "" {
		return nil, ErrInvalidEnvelope
	}
	if action == ActionPublish && w.Data == "" {
		return nil, ErrInvalidEnvelope
	}
	return &Inbound{Action: action, Key: w.Key, Data: w.Data}, nil
}

type outboundWire struct {
	Key  string `json:"key"`
	Data string `json:"data"`
}

// EncodeOutbound builds the {"key","data"} fanout envelope for a broker
// message, with both fields JSON-string-escaped by encoding/json.
func EncodeOutbound(channel string, payload []byte) ([]byte, error) {
	return json.Marshal(outboundWire{Key: channel, Data: string(payload)})
}
