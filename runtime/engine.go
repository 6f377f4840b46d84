// Package runtime wires the engine: plugin registry, middleware pipeline,
// presence directory, the local participant and its chats.
// It owns their lifecycle without containing business logic.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"chat-engine/chat"
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/middleware"
	"chat-engine/plugin"
	"chat-engine/presence"
)

const DefaultGlobalChannel = "ofc-global"

type Option func(*Engine)

// WithPlugins sets the plugins registered when the engine is built.
func WithPlugins(descriptors ...plugin.Descriptor) Option {
	return func(e *Engine) { e.plugins = append(e.plugins, descriptors...) }
}

func WithPolicy(policy contract.ErrorPolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithStateStore restores Me's state on Identify and saves it on every change.
func WithStateStore(store contract.StateStore) Option {
	return func(e *Engine) { e.store = store }
}

func WithGlobalChannel(channel string) Option {
	return func(e *Engine) { e.globalChannel = channel }
}

// Engine is the explicit context of one identified participant.
// Build it, Identify, attach listeners, Start, and Close on shutdown.
type Engine struct {
	mu            sync.Mutex
	openMu        sync.Mutex
	log           *slog.Logger
	transport     contract.Transport
	registry      *plugin.Registry
	pipeline      *middleware.Pipeline
	directory     *presence.Directory
	policy        contract.ErrorPolicy
	store         contract.StateStore
	globalChannel string
	plugins       []plugin.Descriptor

	ctx    context.Context
	cancel context.CancelFunc
	me     *domain.Me
	global *chat.GlobalChat
	chats  map[string]*chat.Chat
	closed bool
}

func NewEngine(log *slog.Logger, transport contract.Transport, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:           log,
		transport:     transport,
		registry:      plugin.NewRegistry(),
		globalChannel: DefaultGlobalChannel,
		chats:         make(map[string]*chat.Chat),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy == nil {
		e.policy = NewLogPolicy(log)
	}
	if err := e.registry.Register(e.plugins...); err != nil {
		return nil, err
	}
	e.pipeline = middleware.NewPipeline(e.registry)
	e.directory = presence.NewDirectory(log, e.newUser)
	return e, nil
}

func (e *Engine) newUser(identity string, state domain.State) (*domain.User, error) {
	user := domain.NewUser(identity, state)
	if err := e.registry.Augment(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Identify builds the local participant and the global chat without
// touching the network. Persisted state, if any, is overlaid by state.
func (e *Engine) Identify(identity string, state domain.State) (*domain.Me, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.ErrEngineClosed
	}
	if e.me != nil {
		return nil, fmt.Errorf("%w as %s", errors.ErrAlreadyIdentified, e.me.Identity())
	}

	merged, err := e.restore(identity, state)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	me := domain.NewMe(ctx, identity, merged, e.transport,
		domain.WithPushFailureHook(func(channel string, err error) {
			e.policy.Handle(ctx, domain.Failure{
				Kind:     domain.FailureTransport,
				Op:       "push state",
				Channel:  channel,
				Identity: identity,
				Err:      err,
			})
		}))
	if err := e.registry.Augment(me); err != nil {
		cancel()
		return nil, err
	}

	global, err := chat.NewGlobal(e.deps(me), e.globalChannel)
	if err != nil {
		cancel()
		return nil, err
	}

	if e.store != nil {
		me.On(event.StateUpdate, func(domain.StateUpdate) { e.persist(me) })
	}

	e.ctx, e.cancel = ctx, cancel
	e.me, e.global = me, global
	e.log.Info("Identified", "identity", identity, "plugins", e.registry.Namespaces())
	return me, nil
}

// Start connects the transport and joins the global chat.
// Listeners attached to Global() before Start see every current occupant join.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	closed, global := e.closed, e.global
	e.mu.Unlock()

	if closed {
		return errors.ErrEngineClosed
	}
	if global == nil {
		return errors.ErrNotIdentified
	}
	if err := e.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	// Announcements run listeners on this goroutine: no lock held here.
	return global.Start(ctx)
}

func (e *Engine) deps(me *domain.Me) chat.Deps {
	return chat.Deps{
		Log:       e.log,
		Transport: e.transport,
		Registry:  e.registry,
		Pipeline:  e.pipeline,
		Directory: e.directory,
		Me:        me,
		Policy:    e.policy,
	}
}

func (e *Engine) Me() *domain.Me {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.me
}

func (e *Engine) Global() *chat.GlobalChat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.global
}

func (e *Engine) Directory() *presence.Directory { return e.directory }

func (e *Engine) Registry() *plugin.Registry { return e.registry }

// Chat opens, or reuses, the chat bound to channel id.
func (e *Engine) Chat(ctx context.Context, id string) (*chat.Chat, error) {
	e.openMu.Lock()
	defer e.openMu.Unlock()

	e.mu.Lock()
	if err := e.usable(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if id == e.globalChannel {
		defer e.mu.Unlock()
		return e.global.Chat, nil
	}
	if c, ok := e.chats[id]; ok {
		e.mu.Unlock()
		return c, nil
	}
	deps := e.deps(e.me)
	e.mu.Unlock()

	c, err := chat.New(deps, id)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.chats[id] = c
	return c, nil
}

func (e *Engine) usable() error {
	if e.closed {
		return errors.ErrEngineClosed
	}
	if e.me == nil {
		return errors.ErrNotIdentified
	}
	return nil
}

// DirectChat opens the chat shared with peer. Both sides derive the same id.
func (e *Engine) DirectChat(ctx context.Context, peer domain.Host) (*chat.Chat, error) {
	me := e.Me()
	if me == nil {
		return nil, errors.ErrNotIdentified
	}
	return e.Chat(ctx, domain.DirectChannelID(me.Identity(), peer.Identity()))
}

// Close leaves every chat, flushes state pushes, saves Me's state,
// closes the transport and empties the directory.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	chats := e.chats
	e.chats = make(map[string]*chat.Chat)
	global, me, cancel := e.global, e.me, e.cancel
	e.mu.Unlock()

	// Listeners may call back into the engine while the transport drains.
	var errs []error
	for _, c := range chats {
		if err := c.Leave(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if global != nil {
		if err := global.Leave(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if me != nil {
		me.Wait()
		e.persist(me)
	}
	if cancel != nil {
		cancel()
	}
	if err := e.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	e.directory.Reset()

	e.log.Info("Engine closed")
	return stderrors.Join(errs...)
}

func (e *Engine) restore(identity string, state domain.State) (domain.State, error) {
	if e.store == nil {
		return state.Clone(), nil
	}
	stored, err := e.store.Load(identity)
	if err != nil {
		return nil, fmt.Errorf("restore state of %s: %w", identity, err)
	}
	merged := stored.Clone()
	for k, v := range state {
		merged[k] = v
	}
	return merged, nil
}

func (e *Engine) persist(me *domain.Me) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(me.Identity(), me.State()); err != nil {
		e.log.Warn("Failed to save state", "identity", me.Identity(), "error", err)
	}
}
