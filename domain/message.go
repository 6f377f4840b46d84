// Package domain contains core concepts of the chat system.
// This file defines the messages crossing the transport and the
// payloads flowing through the middleware pipeline.
package domain

import "maps"

// WireMessage is what a chat hands to the transport.
// It carries no local decoration.
type WireMessage struct {
	ID     string         `json:"id"`
	Event  string         `json:"event"`
	Sender string         `json:"sender"`
	Data   map[string]any `json:"data,omitempty"`
}

// Payload is the live object passed between middleware stages.
// Stages may mutate it in place.
type Payload struct {
	ID       string
	Data     map[string]any
	Sender   string
	User     *User          // resolved sender, or the presence subject
	Presence *PresenceEvent // set on presence broadcasts only
	Chat     string         // id of the chat handling the payload, local only
}

// Wire strips local decoration. Data is copied so the transport never
// shares the map with the publishing chain.
func (p *Payload) Wire(event string) WireMessage {
	return WireMessage{
		ID:     p.ID,
		Event:  event,
		Sender: p.Sender,
		Data:   maps.Clone(p.Data),
	}
}

// Text returns the "text" field of the data, if any.
func (p *Payload) Text() (string, bool) {
	if p == nil || p.Data == nil {
		return "", false
	}
	s, ok := p.Data["text"].(string)
	return s, ok
}

type EnvelopeKind string

const (
	EnvelopeMessage  EnvelopeKind = "message"
	EnvelopePresence EnvelopeKind = "presence"
	EnvelopeStatus   EnvelopeKind = "status"
)

// Envelope is the unit delivered by a hub or a transport to its listeners.
type Envelope struct {
	Kind     EnvelopeKind   `json:"kind"`
	Channel  string         `json:"channel,omitempty"`
	Message  *WireMessage   `json:"message,omitempty"`
	Presence *PresenceEvent `json:"presence,omitempty"`
	Status   *StatusEvent   `json:"status,omitempty"`
}

type StatusCategory string

const (
	StatusConnected    StatusCategory = "connected"
	StatusDisconnected StatusCategory = "disconnected"
)

// StatusEvent is a connection-status notification for a set of channels.
type StatusEvent struct {
	Category StatusCategory `json:"category"`
	Channels []string       `json:"channels,omitempty"`
}
