package runtime_test

import (
	"context"
	stderrors "errors"
	"log/slog"
	"testing"
	"time"

	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/hub"
	"chat-engine/plugin"
	"chat-engine/runtime"
	"chat-engine/storage"
	"chat-engine/transport/memory"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 10 * time.Millisecond
)

func newHub() *hub.Hub {
	return hub.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), 100*time.Millisecond)
}

func newEngine(t *testing.T, h *hub.Hub, identity string, opts ...runtime.Option) *runtime.Engine {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	engine, err := runtime.NewEngine(log, memory.New(log, h, identity), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	return engine
}

func TestEngine_Lifecycle_Errors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	engine := newEngine(t, newHub(), "alice")

	// Nothing works before Identify
	req.ErrorIs(engine.Start(ctx), errors.ErrNotIdentified)
	_, err := engine.Chat(ctx, "room")
	req.ErrorIs(err, errors.ErrNotIdentified)
	req.Nil(engine.Me())
	req.Nil(engine.Global())

	// Identify works once
	me, err := engine.Identify("alice", domain.State{"mood": "happy"})
	req.NoError(err)
	req.Equal("alice", me.Identity())
	req.Same(me, engine.Me())
	_, err = engine.Identify("alice", nil)
	req.ErrorIs(err, errors.ErrAlreadyIdentified)

	// Close is idempotent and final
	req.NoError(engine.Close(ctx))
	req.NoError(engine.Close(ctx))
	req.ErrorIs(engine.Start(ctx), errors.ErrEngineClosed)
	_, err = engine.Chat(ctx, "room")
	req.ErrorIs(err, errors.ErrEngineClosed)
}

func TestEngine_Rejects_Invalid_Plugins(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	_, err := runtime.NewEngine(log, memory.New(log, newHub(), "alice"),
		runtime.WithPlugins(plugin.Descriptor{Namespace: "twin"}, plugin.Descriptor{Namespace: "twin"}))

	require.ErrorIs(t, err, errors.ErrDuplicateNamespace)
}

func TestEngine_Two_Participants_Meet_And_Talk(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()

	alice := newEngine(t, h, "alice")
	bob := newEngine(t, h, "bob")
	_, err := alice.Identify("alice", domain.State{"mood": "happy"})
	req.NoError(err)
	_, err = bob.Identify("bob", domain.State{"mood": "sad"})
	req.NoError(err)

	joined := make(chan string, 16)
	alice.Global().On(event.Join, func(p *domain.Payload) { joined <- p.Sender })

	// Given both participants started
	req.NoError(alice.Start(ctx))
	req.NoError(bob.Start(ctx))

	// Then alice sees bob join with a committed state
	req.Eventually(func() bool {
		user, ok := alice.Directory().Get("bob")
		if !ok {
			return false
		}
		mood, _ := user.Get("mood")
		return mood == "sad"
	}, waitFor, tick)
	req.Contains(drain(joined), "bob")

	// When both open the direct chat
	bobUser, _ := alice.Directory().Get("bob")
	aliceDirect, err := alice.DirectChat(ctx, bobUser)
	req.NoError(err)

	req.Eventually(func() bool {
		_, ok := bob.Directory().Get("alice")
		return ok
	}, waitFor, tick)
	aliceUser, _ := bob.Directory().Get("alice")
	bobDirect, err := bob.DirectChat(ctx, aliceUser)
	req.NoError(err)

	// Then they agree on the channel and the engine reuses open chats
	req.Equal("alice:bob", aliceDirect.ID())
	req.Equal(aliceDirect.ID(), bobDirect.ID())
	again, err := alice.Chat(ctx, "alice:bob")
	req.NoError(err)
	req.Same(aliceDirect, again)
	globalChat, err := alice.Chat(ctx, runtime.DefaultGlobalChannel)
	req.NoError(err)
	req.Same(alice.Global().Chat, globalChat)

	// When alice talks on it
	received := make(chan *domain.Payload, 1)
	bobDirect.On(event.Message, func(p *domain.Payload) { received <- p })
	req.NoError(aliceDirect.Publish(ctx, event.Message, map[string]any{"text": "psst"}))

	// Then bob gets it with alice resolved from the directory
	select {
	case p := <-received:
		req.Equal("alice", p.Sender)
		req.Same(aliceUser, p.User)
		text, _ := p.Text()
		req.Equal("psst", text)
	case <-time.After(waitFor):
		req.FailNow("no message received")
	}
}

func TestEngine_Me_Set_Reaches_Every_Active_Channel(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()

	alice := newEngine(t, h, "alice")
	me, err := alice.Identify("alice", nil)
	req.NoError(err)
	req.NoError(alice.Start(ctx))
	_, err = alice.Chat(ctx, "room")
	req.NoError(err)
	req.Equal([]string{runtime.DefaultGlobalChannel, "room"}, me.Channels())

	// When alice changes mood
	me.Set("mood", "sad")

	// Then both channels report the full state
	for _, channel := range []string{runtime.DefaultGlobalChannel, "room"} {
		req.Eventually(func() bool {
			for _, occupant := range h.HereNow(channel) {
				if occupant.Identity == "alice" {
					return occupant.State["mood"] == "sad" && occupant.State.Initialized()
				}
			}
			return false
		}, waitFor, tick, channel)
	}
}

func TestEngine_Leave_Is_Seen_By_Others(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()

	alice := newEngine(t, h, "alice")
	bob := newEngine(t, h, "bob")
	_, err := alice.Identify("alice", nil)
	req.NoError(err)
	_, err = bob.Identify("bob", nil)
	req.NoError(err)

	left := make(chan string, 1)
	alice.Global().On(event.Leave, func(p *domain.Payload) { left <- p.Sender })
	req.NoError(alice.Start(ctx))
	req.NoError(bob.Start(ctx))
	req.Eventually(func() bool {
		_, ok := alice.Directory().Get("bob")
		return ok
	}, waitFor, tick)

	// When bob closes
	req.NoError(bob.Close(ctx))

	// Then alice sees the leave and forgets bob
	select {
	case who := <-left:
		req.Equal("bob", who)
	case <-time.After(waitFor):
		req.FailNow("no leave received")
	}
	_, ok := alice.Directory().Get("bob")
	req.False(ok)
	req.Zero(bob.Directory().Len())
}

func TestEngine_State_Survives_Restart(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()
	db, err := storage.Open(t.TempDir())
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewStateRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug))

	// Given a first run setting the city
	first := newEngine(t, h, "alice", runtime.WithStateStore(store))
	me, err := first.Identify("alice", domain.State{"mood": "happy"})
	req.NoError(err)
	req.NoError(first.Start(ctx))
	me.Set("city", "Paris")
	req.NoError(first.Close(ctx))

	// When a second run starts with a new mood
	second := newEngine(t, h, "alice", runtime.WithStateStore(store))
	me, err = second.Identify("alice", domain.State{"mood": "sad"})
	req.NoError(err)

	// Then the stored state is restored and overlaid
	city, _ := me.Get("city")
	mood, _ := me.Get("mood")
	req.Equal("Paris", city)
	req.Equal("sad", mood)
}

func TestEngine_Policy_Receives_Broadcast_Aborts(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	refused := stderrors.New("refused")
	failures := make(chan domain.Failure, 1)

	guard := plugin.Descriptor{
		Namespace: "guard",
		Middleware: map[domain.Location]map[string]plugin.Handler{
			domain.LocationBroadcast: {event.Message: func(context.Context, *domain.Payload) (*domain.Payload, error) {
				return nil, refused
			}},
		},
	}
	alice := newEngine(t, newHub(), "alice",
		runtime.WithPlugins(guard),
		runtime.WithPolicy(runtime.PolicyFunc(func(_ context.Context, f domain.Failure) { failures <- f })))
	_, err := alice.Identify("alice", nil)
	req.NoError(err)
	req.NoError(alice.Start(ctx))

	// When alice's own message comes back and the broadcast chain refuses it
	req.NoError(alice.Global().Publish(ctx, event.Message, map[string]any{"text": "hi"}))

	// Then the policy is told, nobody else
	select {
	case f := <-failures:
		req.Equal(domain.FailurePipeline, f.Kind)
		req.Equal(runtime.DefaultGlobalChannel, f.Channel)
		req.ErrorIs(f, refused)
	case <-time.After(waitFor):
		req.FailNow("no failure reported")
	}
}

func TestEngine_Receivers_Tag_Their_Own_Copy(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHub()
	tagger := func(tag string) runtime.Option {
		return runtime.WithPlugins(plugin.Descriptor{
			Namespace: "tag",
			Middleware: map[domain.Location]map[string]plugin.Handler{
				domain.LocationBroadcast: {event.Message: func(_ context.Context, p *domain.Payload) (*domain.Payload, error) {
					p.Data["tag"] = tag
					return p, nil
				}},
			},
		})
	}

	alice := newEngine(t, h, "alice", tagger("alice"))
	bob := newEngine(t, h, "bob", tagger("bob"))
	carol := newEngine(t, h, "carol")
	tags := make(chan map[string]any, 2)
	for identity, engine := range map[string]*runtime.Engine{"alice": alice, "bob": bob, "carol": carol} {
		_, err := engine.Identify(identity, nil)
		req.NoError(err)
		if identity != "carol" {
			engine.Global().On(event.Message, func(p *domain.Payload) { tags <- p.Data })
		}
		req.NoError(engine.Start(ctx))
	}

	// When carol publishes once to everyone
	data := map[string]any{"text": "salut"}
	req.NoError(carol.Global().Publish(ctx, event.Message, data))

	// Then each receiver holds its own tag and carol's map is untouched
	var got []string
	for range 2 {
		select {
		case received := <-tags:
			got = append(got, received["tag"].(string))
		case <-time.After(waitFor):
			req.FailNow("message not received")
		}
	}
	req.ElementsMatch([]string{"alice", "bob"}, got)
	req.Equal(map[string]any{"text": "salut"}, data)
}

func drain(ch chan string) []string {
	var out []string
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
