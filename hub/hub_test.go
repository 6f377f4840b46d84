package hub

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/errors"
	"chat-engine/mocks"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recorder struct {
	mu        sync.Mutex
	envelopes []domain.Envelope
}

func (r *recorder) Consume(_ context.Context, envelope domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, envelope)
	return nil
}

func (r *recorder) presence() []domain.PresenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PresenceEvent
	for _, e := range r.envelopes {
		if e.Kind == domain.EnvelopePresence {
			out = append(out, *e.Presence)
		}
	}
	return out
}

func (r *recorder) messages() []domain.WireMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WireMessage
	for _, e := range r.envelopes {
		if e.Kind == domain.EnvelopeMessage {
			out = append(out, *e.Message)
		}
	}
	return out
}

func newHub() *Hub {
	return NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), time.Second)
}

func TestHub_Join_Announced_To_Presence_Subscribers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()
	watcher, quiet := &recorder{}, &recorder{}

	watcherID := h.Connect("alice", watcher)
	quietID := h.Connect("carol", quiet)
	req.NoError(h.Subscribe(ctx, watcherID, []string{"room"}, true))
	req.NoError(h.Subscribe(ctx, quietID, []string{"room"}, false))

	// When bob joins
	bobID := h.Connect("bob", &recorder{})
	req.NoError(h.Subscribe(ctx, bobID, []string{"room"}, true))

	// Then only presence subscribers hear about it
	events := watcher.presence()
	req.Len(events, 3)
	req.Equal("alice", events[0].Identity)
	req.Equal("carol", events[1].Identity)
	req.Equal("bob", events[2].Identity)
	req.Equal(domain.ActionJoin, events[2].Action)
	req.Empty(quiet.presence())
	req.Equal(3, h.Sessions())
}

func TestHub_Publish_Reaches_Every_Member(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()
	alice, bob, outsider := &recorder{}, &recorder{}, &recorder{}

	aliceID := h.Connect("alice", alice)
	bobID := h.Connect("bob", bob)
	h.Connect("mallory", outsider)
	req.NoError(h.Subscribe(ctx, aliceID, []string{"room"}, false))
	req.NoError(h.Subscribe(ctx, bobID, []string{"room"}, false))

	message := domain.WireMessage{ID: "m1", Event: "message", Sender: "alice", Data: map[string]any{"text": "hi"}}

	// When alice publishes
	req.NoError(h.Publish(ctx, aliceID, "room", message))

	// Then both members get it, the sender included
	req.Equal([]domain.WireMessage{message}, alice.messages())
	req.Equal([]domain.WireMessage{message}, bob.messages())
	req.Empty(outsider.messages())
}

func TestHub_SetState_Then_HereNow(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()
	watcher := &recorder{}
	watcherID := h.Connect("bob", watcher)
	aliceID := h.Connect("alice", &recorder{})
	req.NoError(h.Subscribe(ctx, watcherID, []string{"a", "b"}, true))
	req.NoError(h.Subscribe(ctx, aliceID, []string{"a", "b"}, true))

	state := domain.State{domain.InitializedKey: true, "mood": "happy"}

	// When alice sets a state on both channels
	req.NoError(h.SetState(ctx, aliceID, state, []string{"a", "b"}))

	// Then each channel announces a state-change with the full state
	var changes []domain.PresenceEvent
	for _, p := range watcher.presence() {
		if p.Action == domain.ActionStateChange {
			changes = append(changes, p)
		}
	}
	req.Len(changes, 2)
	req.Equal("a", changes[0].Channel)
	req.Equal("b", changes[1].Channel)
	req.Equal(state, changes[0].State)

	// And the occupants query carries it
	req.Equal([]domain.Occupant{
		{Identity: "alice", State: state},
		{Identity: "bob", State: domain.State{}},
	}, h.HereNow("a"))
}

func TestHub_Disconnect_Leave_And_Expire_Timeout(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()
	watcher := &recorder{}
	watcherID := h.Connect("bob", watcher)
	req.NoError(h.Subscribe(ctx, watcherID, []string{"room"}, true))

	aliceID := h.Connect("alice", &recorder{})
	req.NoError(h.Subscribe(ctx, aliceID, []string{"room"}, true))
	carolID := h.Connect("carol", &recorder{})
	req.NoError(h.Subscribe(ctx, carolID, []string{"room"}, true))

	// When alice disconnects and carol goes idle
	h.Disconnect(ctx, aliceID)
	h.Expire(ctx, carolID)

	// Then a leave then a timeout are announced
	events := watcher.presence()
	last := events[len(events)-2:]
	req.Equal("alice", last[0].Identity)
	req.Equal(domain.ActionLeave, last[0].Action)
	req.Equal("carol", last[1].Identity)
	req.Equal(domain.ActionTimeout, last[1].Action)
	req.Len(h.HereNow("room"), 1)

	// And a second disconnect is a no-op
	h.Disconnect(ctx, aliceID)
	req.Len(watcher.presence(), len(events))
}

func TestHub_ExpireIdle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()
	now := time.Now()
	h.now = func() time.Time { return now }

	staleID := h.Connect("alice", &recorder{})
	h.now = func() time.Time { return now.Add(time.Minute) }
	h.Connect("bob", &recorder{})

	// When sessions idle for more than 30s are expired
	expired := h.ExpireIdle(ctx, 30*time.Second)

	// Then only the stale one is gone
	req.Equal(1, expired)
	req.Equal(1, h.Sessions())
	_, ok := h.registry.Session(staleID)
	req.False(ok)
}

func TestHub_Unknown_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()

	req.ErrorIs(h.Subscribe(ctx, "nope", []string{"room"}, true), errors.ErrUnknownSession)
	req.ErrorIs(h.Unsubscribe(ctx, "nope", []string{"room"}), errors.ErrUnknownSession)
	req.ErrorIs(h.Publish(ctx, "nope", "room", domain.WireMessage{}), errors.ErrUnknownSession)
	req.ErrorIs(h.SetState(ctx, "nope", domain.State{}, []string{"room"}), errors.ErrUnknownSession)
}

func TestHub_Fanout_SinkTimeout(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	slow := mocks.NewMockEventSink(ctrl)
	fast := &recorder{}
	h := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), 20*time.Millisecond)

	// Given a sink that never accepts in time
	slow.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.Envelope) error {
			<-ctx.Done()
			return ctx.Err()
		}).
		Times(1)

	// When an envelope is fanned out
	start := time.Now()
	h.Fanout(context.Background(), []contract.EventSink{slow, fast}, domain.Envelope{Kind: domain.EnvelopeMessage, Message: &domain.WireMessage{ID: "m1"}})

	// Then the slow sink is skipped after its deadline and the next one still gets it
	req.Less(time.Since(start), time.Second)
	req.Len(fast.messages(), 1)
}
