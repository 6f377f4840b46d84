package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/errors"

	"github.com/gorilla/websocket"
)

const DefaultInboxSize = 256

// Transport is the client side of the relay protocol.
// There is no reconnection: a lost connection is reported once as a
// disconnected status and every later call fails.
type Transport struct {
	log      *slog.Logger
	endpoint string
	identity string
	dialer   *websocket.Dialer

	mu        sync.RWMutex
	conn      *websocket.Conn
	nextID    uint64
	listeners map[uint64]contract.Listener

	writeMu sync.Mutex
	seq     atomic.Uint64
	pendMu  sync.Mutex
	pending map[uint64]chan Frame

	inbox  chan domain.Envelope
	lost   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New prepares a transport for the relay at endpoint, e.g. ws://host:8080/ws.
func New(log *slog.Logger, endpoint, identity string) *Transport {
	return &Transport{
		log:       log,
		endpoint:  endpoint,
		identity:  identity,
		dialer:    websocket.DefaultDialer,
		listeners: make(map[uint64]contract.Listener),
		pending:   make(map[uint64]chan Frame),
		inbox:     make(chan domain.Envelope, DefaultInboxSize),
		lost:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and waits for its hello. It is idempotent.
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return errors.ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return fmt.Errorf("relay endpoint %q: %w", t.endpoint, err)
	}
	q := u.Query()
	q.Set("identity", t.identity)
	u.RawQuery = q.Encode()

	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	var hello Frame
	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != FrameHello {
		_ = conn.Close()
		return fmt.Errorf("%w: no hello from relay", errors.ErrRemote)
	}
	_ = conn.SetReadDeadline(time.Time{})

	t.conn = conn
	t.wg.Add(2)
	go t.read(conn)
	go t.dispatch()
	t.log.Info("Connected to relay", "endpoint", t.endpoint, "identity", hello.Identity)
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channels []string, withPresence bool) error {
	if _, err := t.request(ctx, Frame{Type: FrameSubscribe, Channels: channels, Presence: withPresence}); err != nil {
		return err
	}
	t.offer(domain.Envelope{
		Kind:   domain.EnvelopeStatus,
		Status: &domain.StatusEvent{Category: domain.StatusConnected, Channels: channels},
	})
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, channels []string) error {
	_, err := t.request(ctx, Frame{Type: FrameUnsubscribe, Channels: channels})
	return err
}

func (t *Transport) Publish(ctx context.Context, channel string, message domain.WireMessage) error {
	_, err := t.request(ctx, Frame{Type: FramePublish, Channel: channel, Message: &message})
	return err
}

func (t *Transport) SetPresenceState(ctx context.Context, state domain.State, channels []string) error {
	_, err := t.request(ctx, Frame{Type: FrameState, State: state, Channels: channels})
	return err
}

func (t *Transport) HereNow(ctx context.Context, channel string) ([]domain.Occupant, error) {
	reply, err := t.request(ctx, Frame{Type: FrameHereNow, Channel: channel})
	if err != nil {
		return nil, err
	}
	return reply.Occupants, nil
}

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

// Close says goodbye to the relay and waits for the reader and dispatcher.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	}
	close(t.done)
	t.wg.Wait()
	t.log.Debug("Relay transport closed", "identity", t.identity)
	return nil
}

// request writes frame and waits for the ack carrying its seq.
func (t *Transport) request(ctx context.Context, frame Frame) (Frame, error) {
	if t.closed.Load() {
		return Frame{}, errors.ErrTransportClosed
	}
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return Frame{}, errors.ErrNotConnected
	}
	select {
	case <-t.lost:
		return Frame{}, errors.ErrTransportClosed
	default:
	}

	frame.Seq = t.seq.Add(1)
	reply := make(chan Frame, 1)
	t.pendMu.Lock()
	t.pending[frame.Seq] = reply
	t.pendMu.Unlock()
	defer func() {
		t.pendMu.Lock()
		delete(t.pending, frame.Seq)
		t.pendMu.Unlock()
	}()

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(frame)
	t.writeMu.Unlock()
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", frame.Type, err)
	}

	select {
	case r := <-reply:
		if r.Error != "" {
			return r, fmt.Errorf("%w: %s: %s", errors.ErrRemote, frame.Type, r.Error)
		}
		return r, nil
	case <-t.lost:
		return Frame{}, errors.ErrTransportClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (t *Transport) read(conn *websocket.Conn) {
	defer t.wg.Done()
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			close(t.lost)
			if !t.closed.Load() {
				t.log.Warn("Relay connection lost", "identity", t.identity, "error", err)
				_ = t.enqueue(context.Background(), domain.Envelope{
					Kind:   domain.EnvelopeStatus,
					Status: &domain.StatusEvent{Category: domain.StatusDisconnected},
				})
			}
			return
		}
		switch frame.Type {
		case FrameAck:
			t.pendMu.Lock()
			reply, ok := t.pending[frame.Seq]
			t.pendMu.Unlock()
			if ok {
				reply <- frame
			}
		case FrameEnvelope:
			if frame.Envelope != nil {
				t.offer(*frame.Envelope)
			}
		}
	}
}

// offer never blocks: the reader must stay free to route acks that a
// listener on the dispatch goroutine may be waiting for. A full inbox
// drops the envelope, like the relay does for a slow sink.
func (t *Transport) offer(envelope domain.Envelope) {
	select {
	case t.inbox <- envelope:
	default:
		t.log.Warn("Inbox full, envelope dropped", "identity", t.identity, "kind", envelope.Kind, "channel", envelope.Channel)
	}
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

func (t *Transport) deliver(envelope domain.Envelope) {
	t.mu.RLock()
	ids := make([]uint64, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]contract.Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, t.listeners[id])
	}
	t.mu.RUnlock()

	for _, l := range listeners {
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
