// Package hub is an in-process publish/subscribe broker with presence.
// It backs the memory transport and the WebSocket relay.
//
// Fan-out is best-effort: each sink gets a bounded time to accept an
// envelope, a sink missing the deadline loses it. There is no durability
// and no retry.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/errors"

	"github.com/google/uuid"
)

type Hub struct {
	log         *slog.Logger
	registry    *Registry
	sinkTimeout time.Duration
	now         func() time.Time
}

func NewHub(log *slog.Logger, sinkTimeout time.Duration) *Hub {
	return &Hub{
		log:         log,
		registry:    NewRegistry(),
		sinkTimeout: sinkTimeout,
		now:         time.Now,
	}
}

// Connect opens a session for identity and returns its id.
func (h *Hub) Connect(identity string, sink contract.EventSink) string {
	session := &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		Sink:     sink,
		LastSeen: h.now(),
	}
	h.registry.Register(session)
	h.log.Debug("Session connected", "session", session.ID, "identity", identity)
	return session.ID
}

// Disconnect closes a session. Channels its identity vacates get a leave.
func (h *Hub) Disconnect(ctx context.Context, sessionID string) {
	session, vacated := h.registry.Unregister(sessionID)
	if session == nil {
		return
	}
	for _, channel := range vacated {
		h.announce(ctx, channel, session.Identity, domain.ActionLeave, nil)
	}
	h.log.Debug("Session disconnected", "session", sessionID, "identity", session.Identity)
}

// Expire drops a session that stopped answering. Its channels get a timeout
// instead of a leave.
func (h *Hub) Expire(ctx context.Context, sessionID string) {
	session, vacated := h.registry.Unregister(sessionID)
	if session == nil {
		return
	}
	for _, channel := range vacated {
		h.announce(ctx, channel, session.Identity, domain.ActionTimeout, nil)
	}
	h.log.Info("Session expired", "session", sessionID, "identity", session.Identity)
}

// ExpireIdle expires every session idle for longer than maxIdle.
func (h *Hub) ExpireIdle(ctx context.Context, maxIdle time.Duration) int {
	idle := h.registry.Idle(h.now().Add(-maxIdle))
	for _, id := range idle {
		h.Expire(ctx, id)
	}
	return len(idle)
}

// Touch records activity on a session.
func (h *Hub) Touch(sessionID string) {
	h.registry.Touch(sessionID, h.now())
}

func (h *Hub) Subscribe(ctx context.Context, sessionID string, channels []string, withPresence bool) error {
	session, ok := h.registry.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownSession, sessionID)
	}
	for _, channel := range channels {
		joined, ok := h.registry.Subscribe(sessionID, channel, withPresence)
		if !ok {
			return fmt.Errorf("%w: %s", errors.ErrUnknownSession, sessionID)
		}
		if joined {
			h.announce(ctx, channel, session.Identity, domain.ActionJoin, h.registry.State(channel, session.Identity))
		}
	}
	h.Touch(sessionID)
	return nil
}

func (h *Hub) Unsubscribe(ctx context.Context, sessionID string, channels []string) error {
	session, ok := h.registry.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownSession, sessionID)
	}
	for _, channel := range channels {
		if h.registry.Unsubscribe(sessionID, channel) {
			h.announce(ctx, channel, session.Identity, domain.ActionLeave, nil)
		}
	}
	h.Touch(sessionID)
	return nil
}

// Publish delivers message to every member of channel, the sender included.
func (h *Hub) Publish(ctx context.Context, sessionID, channel string, message domain.WireMessage) error {
	if _, ok := h.registry.Session(sessionID); !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownSession, sessionID)
	}
	h.Touch(sessionID)
	h.Fanout(ctx, h.registry.GetSinksForChannel(channel, false), domain.Envelope{
		Kind:    domain.EnvelopeMessage,
		Channel: channel,
		Message: &message,
	})
	return nil
}

// SetState stores the session identity's state on each channel and
// announces a state-change there.
func (h *Hub) SetState(ctx context.Context, sessionID string, state domain.State, channels []string) error {
	session, ok := h.registry.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownSession, sessionID)
	}
	h.Touch(sessionID)
	for _, channel := range channels {
		h.registry.SetState(channel, session.Identity, state)
		h.announce(ctx, channel, session.Identity, domain.ActionStateChange, state.Clone())
	}
	return nil
}

func (h *Hub) HereNow(channel string) []domain.Occupant {
	return h.registry.Occupants(channel)
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	return h.registry.Len()
}

func (h *Hub) announce(ctx context.Context, channel, identity string, action domain.Action, state domain.State) {
	h.Fanout(ctx, h.registry.GetSinksForChannel(channel, true), domain.Envelope{
		Kind:    domain.EnvelopePresence,
		Channel: channel,
		Presence: &domain.PresenceEvent{
			Channel:   channel,
			Identity:  identity,
			Action:    action,
			State:     state,
			Timestamp: h.now().UTC(),
		},
	})
}

// Fanout hands envelope to each sink in turn, each bounded by the sink timeout.
// Sinks are expected to enqueue, not to process.
func (h *Hub) Fanout(ctx context.Context, sinks []contract.EventSink, envelope domain.Envelope) {
	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, h.sinkTimeout)
		if err := sink.Consume(sinkCtx, envelope); err != nil {
			h.log.Warn("Envelope dropped", "kind", envelope.Kind, "channel", envelope.Channel, "error", err)
		}
		cancel()
	}
}
