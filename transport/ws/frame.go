// Package ws carries the hub protocol over WebSocket.
//
// A client opens /ws?identity=<id> and receives a hello frame. Every request
// carries a seq the server echoes in its ack; deliveries arrive as envelope
// frames. JSON is the only encoding.
package ws

import "chat-engine/domain"

type FrameType string

const (
	FrameHello       FrameType = "hello"
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePublish     FrameType = "publish"
	FrameState       FrameType = "state"
	FrameHereNow     FrameType = "here_now"
	FrameAck         FrameType = "ack"
	FrameEnvelope    FrameType = "envelope"
)

type Frame struct {
	Type      FrameType           `json:"type"`
	Seq       uint64              `json:"seq,omitempty"`
	Identity  string              `json:"identity,omitempty"`
	Channels  []string            `json:"channels,omitempty"`
	Presence  bool                `json:"presence,omitempty"`
	Channel   string              `json:"channel,omitempty"`
	Message   *domain.WireMessage `json:"message,omitempty"`
	State     domain.State        `json:"state,omitempty"`
	Occupants []domain.Occupant   `json:"occupants,omitempty"`
	Envelope  *domain.Envelope    `json:"envelope,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func ack(seq uint64, err error) Frame {
	f := Frame{Type: FrameAck, Seq: seq}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}
