package domain

import (
	"context"
	"sort"
	"sync"
)

// StatePusher publishes a presence state to channels.
type StatePusher interface {
	SetPresenceState(ctx context.Context, state State, channels []string) error
}

type MeOption func(*Me)

// WithPushFailureHook receives the outcome of failed state pushes.
// Without it failures are dropped.
func WithPushFailureHook(fn func(channel string, err error)) MeOption {
	return func(m *Me) { m.onPushFailure = fn }
}

// Me is the local participant. Every Set is rebroadcast as a full state
// snapshot into each active channel, fire-and-forget. Snapshots reach the
// pusher in Set order.
type Me struct {
	*Person

	ctx           context.Context
	pusher        StatePusher
	onPushFailure func(channel string, err error)

	chMu     sync.RWMutex
	channels map[string]struct{}

	queueMu  sync.Mutex
	queue    []pendingPush
	draining bool
	inflight sync.WaitGroup
}

type pendingPush struct {
	snapshot State
	channels []string
}

// NewMe builds the local participant. ctx bounds the lifetime of state pushes.
func NewMe(ctx context.Context, identity string, state State, pusher StatePusher, opts ...MeOption) *Me {
	m := &Me{
		Person:   NewPerson(identity, state),
		ctx:      ctx,
		pusher:   pusher,
		channels: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Me) Kind() Kind { return KindMe }

// Set writes locally, emits state-update, then pushes the full state
// to every active channel. Push results never reach the caller.
func (m *Me) Set(key string, value any) {
	m.Person.Set(key, value)
	m.push(m.State())
}

func (m *Me) Update(partial State) {
	for _, key := range partial.Keys() {
		m.Set(key, partial[key])
	}
}

// push queues the snapshot. A single drain goroutine runs while the queue
// is not empty, so a later snapshot never overtakes an earlier one.
func (m *Me) push(snapshot State) {
	if m.pusher == nil {
		return
	}
	channels := m.Channels()
	if len(channels) == 0 {
		return
	}
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	m.inflight.Add(1)
	m.queue = append(m.queue, pendingPush{snapshot: snapshot, channels: channels})
	if !m.draining {
		m.draining = true
		go m.drain()
	}
}

func (m *Me) drain() {
	for {
		m.queueMu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.queueMu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.queueMu.Unlock()

		for _, channel := range next.channels {
			err := m.pusher.SetPresenceState(m.ctx, next.snapshot, []string{channel})
			if err != nil && m.onPushFailure != nil {
				m.onPushFailure(channel, err)
			}
		}
		m.inflight.Done()
	}
}

// Join records a channel Me must propagate its state into.
func (m *Me) Join(channel string) {
	m.chMu.Lock()
	defer m.chMu.Unlock()
	m.channels[channel] = struct{}{}
}

func (m *Me) Leave(channel string) {
	m.chMu.Lock()
	defer m.chMu.Unlock()
	delete(m.channels, channel)
}

// Channels returns the active channels, sorted.
func (m *Me) Channels() []string {
	m.chMu.RLock()
	defer m.chMu.RUnlock()
	out := make([]string, 0, len(m.channels))
	for ch := range m.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until queued state pushes return.
func (m *Me) Wait() {
	m.inflight.Wait()
}
