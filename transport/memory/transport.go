// Package memory is a transport bound to an in-process hub.
// Several engines sharing one hub see each other as on a real network.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/errors"
	"chat-engine/hub"
)

const DefaultInboxSize = 256

type Option func(*Transport)

// WithInboxSize bounds the envelopes waiting for dispatch.
// When the inbox is full the hub's sink timeout applies.
func WithInboxSize(size int) Option {
	return func(t *Transport) { t.inboxSize = size }
}

type Transport struct {
	log       *slog.Logger
	hub       *hub.Hub
	identity  string
	inboxSize int

	mu        sync.RWMutex
	sessionID string
	nextID    uint64
	listeners map[uint64]contract.Listener

	inbox  chan domain.Envelope
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

func New(log *slog.Logger, h *hub.Hub, identity string, opts ...Option) *Transport {
	t := &Transport{
		log:       log,
		hub:       h,
		identity:  identity,
		inboxSize: DefaultInboxSize,
		listeners: make(map[uint64]contract.Listener),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.inbox = make(chan domain.Envelope, t.inboxSize)
	return t
}

// Connect opens the hub session and starts dispatching. It is idempotent.
func (t *Transport) Connect(context.Context) error {
	if t.closed.Load() {
		return errors.ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID != "" {
		return nil
	}
	t.sessionID = t.hub.Connect(t.identity, sink{t})
	t.wg.Add(1)
	go t.dispatch()
	t.log.Debug("Memory transport connected", "identity", t.identity, "session", t.sessionID)
	return nil
}

func (t *Transport) session() (string, error) {
	if t.closed.Load() {
		return "", errors.ErrTransportClosed
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sessionID == "" {
		return "", errors.ErrNotConnected
	}
	return t.sessionID, nil
}

// Subscribe joins channels then reports them connected to the listeners.
func (t *Transport) Subscribe(ctx context.Context, channels []string, withPresence bool) error {
	id, err := t.session()
	if err != nil {
		return err
	}
	if err := t.hub.Subscribe(ctx, id, channels, withPresence); err != nil {
		return err
	}
	return t.enqueue(ctx, domain.Envelope{
		Kind:   domain.EnvelopeStatus,
		Status: &domain.StatusEvent{Category: domain.StatusConnected, Channels: channels},
	})
}

func (t *Transport) Unsubscribe(ctx context.Context, channels []string) error {
	id, err := t.session()
	if err != nil {
		return err
	}
	return t.hub.Unsubscribe(ctx, id, channels)
}

func (t *Transport) Publish(ctx context.Context, channel string, message domain.WireMessage) error {
	id, err := t.session()
	if err != nil {
		return err
	}
	return t.hub.Publish(ctx, id, channel, message)
}

func (t *Transport) SetPresenceState(ctx context.Context, state domain.State, channels []string) error {
	id, err := t.session()
	if err != nil {
		return err
	}
	return t.hub.SetState(ctx, id, state, channels)
}

func (t *Transport) HereNow(_ context.Context, channel string) ([]domain.Occupant, error) {
	if _, err := t.session(); err != nil {
		return nil, err
	}
	return t.hub.HereNow(channel), nil
}

// AddListener registers l. Listeners are called in registration order.
func (t *Transport) AddListener(l contract.Listener) (remove func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.listeners, id)
		})
	}
}

// Close leaves the hub and waits for the dispatch goroutine.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.RLock()
	id := t.sessionID
	t.mu.RUnlock()
	if id != "" {
		t.hub.Disconnect(context.Background(), id)
	}
	close(t.done)
	t.wg.Wait()
	t.log.Debug("Memory transport closed", "identity", t.identity)
	return nil
}

func (t *Transport) enqueue(ctx context.Context, envelope domain.Envelope) error {
	select {
	case t.inbox <- envelope:
		return nil
	case <-t.done:
		return errors.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) dispatch() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case envelope := <-t.inbox:
			t.deliver(envelope)
		}
	}
}

func (t *Transport) snapshot() []contract.Listener {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint64, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]contract.Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.listeners[id])
	}
	return out
}

func (t *Transport) deliver(envelope domain.Envelope) {
	for _, l := range t.snapshot() {
		switch envelope.Kind {
		case domain.EnvelopeStatus:
			l.OnStatus(*envelope.Status)
		case domain.EnvelopeMessage:
			l.OnMessage(envelope.Channel, *envelope.Message)
		case domain.EnvelopePresence:
			l.OnPresence(*envelope.Presence)
		}
	}
}

// sink is the hub side of the transport.
type sink struct {
	t *Transport
}

func (s sink) Consume(ctx context.Context, envelope domain.Envelope) error {
	return s.t.enqueue(ctx, envelope)
}
