// Package chat binds logical conversations to transport channels.
// Inbound traffic flows through the broadcast chain to local listeners,
// local publishes flow through the publish chain to the transport.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/middleware"
	"chat-engine/plugin"
	"chat-engine/presence"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Deps are the collaborators shared by every chat of an engine.
type Deps struct {
	Log       *slog.Logger
	Transport contract.Transport
	Registry  *plugin.Registry
	Pipeline  *middleware.Pipeline
	Directory *presence.Directory
	Me        *domain.Me
	Policy    contract.ErrorPolicy
}

type Chat struct {
	domain.Capabilities
	Deps

	id       string
	kind     domain.Kind
	listener contract.Listener
	emitter  *event.Emitter[*domain.Payload]

	mu             sync.Mutex
	started        bool
	active         atomic.Bool // mirrors started for Publish, which must not wait on mu
	removeListener func()

	ctxMu sync.RWMutex
	ctx   context.Context
}

// New builds a chat on channel id and augments it with Chat plugins.
func New(deps Deps, id string) (*Chat, error) {
	return newChat(deps, id, domain.KindChat, nil)
}

func newChat(deps Deps, id string, kind domain.Kind, listener contract.Listener) (*Chat, error) {
	c := &Chat{
		Deps:     deps,
		id:       id,
		kind:     kind,
		listener: listener,
		emitter:  event.NewEmitter[*domain.Payload](),
		ctx:      context.Background(),
	}
	if c.listener == nil {
		c.listener = c
	}
	if err := deps.Registry.Augment(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chat) ID() string { return c.id }

// Identity is the channel id; it names the chat to plugin factories.
func (c *Chat) Identity() string { return c.id }

func (c *Chat) Kind() domain.Kind { return c.kind }

// On subscribes fn to a local event of this chat.
func (c *Chat) On(name string, fn func(*domain.Payload)) (off func()) {
	return c.emitter.On(name, fn)
}

// Start listens to the transport, subscribes with presence, pushes the
// local state into the channel and marks the channel active for Me.
func (c *Chat) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.ctxMu.Lock()
	c.ctx = context.WithoutCancel(ctx)
	c.ctxMu.Unlock()

	remove := c.Transport.AddListener(c.listener)
	if err := c.Transport.Subscribe(ctx, []string{c.id}, true); err != nil {
		remove()
		return fmt.Errorf("subscribe %s: %w", c.id, err)
	}
	c.removeListener = remove

	if err := c.Transport.SetPresenceState(ctx, c.Me.State(), []string{c.id}); err != nil {
		c.report(ctx, domain.FailureTransport, "set presence state", err)
	}
	c.Me.Join(c.id)
	c.started = true
	c.active.Store(true)

	c.Log.Debug("Chat started", "channel", c.id, "kind", c.kind)
	return nil
}

// Leave unsubscribes and stops propagating Me's state into the channel.
func (c *Chat) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	c.active.Store(false)
	c.Me.Leave(c.id)
	if c.removeListener != nil {
		c.removeListener()
		c.removeListener = nil
	}
	if err := c.Transport.Unsubscribe(ctx, []string{c.id}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", c.id, err)
	}
	c.Log.Debug("Chat left", "channel", c.id)
	return nil
}

// Publish sends event with data through the publish chain then the transport.
// A chain abort or a transport failure is returned; nothing is sent on abort.
func (c *Chat) Publish(ctx context.Context, name string, data map[string]any) error {
	if !c.active.Load() {
		return fmt.Errorf("%w: %s", errors.ErrChatNotStarted, c.id)
	}
	data = maps.Clone(data)
	if data == nil {
		data = make(map[string]any)
	}
	seed := &domain.Payload{
		ID:     uuid.NewString(),
		Data:   data,
		Sender: c.Me.Identity(),
		Chat:   c.id,
	}

	payload, err := c.Pipeline.Run(ctx, domain.LocationPublish, name, seed)
	if err != nil {
		return err
	}
	if err := c.Transport.Publish(ctx, c.id, payload.Wire(name)); err != nil {
		return fmt.Errorf("publish %s on %s: %w", name, c.id, err)
	}
	return nil
}

func (c *Chat) OnStatus(status domain.StatusEvent) {
	if status.Category != domain.StatusConnected || !lo.Contains(status.Channels, c.id) {
		return
	}
	c.emitter.Emit(event.Ready, &domain.Payload{Chat: c.id})
}

// OnMessage runs on the transport dispatch goroutine. Data is copied since
// every receiver of a fan-out holds the same message.
func (c *Chat) OnMessage(channel string, message domain.WireMessage) {
	if channel != c.id {
		return
	}
	payload := &domain.Payload{
		ID:     message.ID,
		Data:   maps.Clone(message.Data),
		Sender: message.Sender,
		Chat:   c.id,
	}
	if payload.Data == nil {
		payload.Data = make(map[string]any)
	}
	if user, ok := c.Directory.Get(message.Sender); ok {
		payload.User = user
	}
	c.broadcast(message.Event, payload)
}

// OnPresence is handled by the global chat only.
func (c *Chat) OnPresence(domain.PresenceEvent) {}

// broadcast runs the broadcast chain and emits the result locally.
// An abort is handed to the error policy and nothing is emitted.
func (c *Chat) broadcast(name string, payload *domain.Payload) {
	ctx := c.baseCtx()
	out, err := c.Pipeline.Run(ctx, domain.LocationBroadcast, name, payload)
	if err != nil {
		c.report(ctx, domain.FailurePipeline, "broadcast "+name, err)
		return
	}
	c.emitter.Emit(name, out)
}

// baseCtx outlives the Start call; inbound dispatch runs under it.
func (c *Chat) baseCtx() context.Context {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()
	return c.ctx
}

func (c *Chat) report(ctx context.Context, kind domain.FailureKind, op string, err error) {
	if c.Policy == nil {
		return
	}
	c.Policy.Handle(ctx, domain.Failure{
		Kind:     kind,
		Op:       op,
		Channel:  c.id,
		Identity: c.Me.Identity(),
		Err:      err,
	})
}
