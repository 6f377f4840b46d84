// Package domain contains core concepts of the chat system.
// This file defines the Person record shared by every directory entity
// and the variants built on it.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"sync"

	"chat-engine/domain/event"
)

// Entity is the behaviour shared by Person variants.
type Entity interface {
	Host
	State() State
	Get(key string) (any, bool)
	Set(key string, value any)
	Update(partial State)
	On(name string, fn func(StateUpdate)) (off func())
	Capability(namespace string) (any, bool)
}

// Person holds an identity, its state bag and a local change emitter.
type Person struct {
	Capabilities

	identity string
	mu       sync.RWMutex
	state    State
	emitter  *event.Emitter[StateUpdate]
}

// NewPerson copies state and marks it initialized: a locally built
// entity always carries committed state.
func NewPerson(identity string, state State) *Person {
	s := state.Clone()
	s[InitializedKey] = true
	return &Person{
		identity: identity,
		state:    s,
		emitter:  event.NewEmitter[StateUpdate](),
	}
}

func (p *Person) Identity() string { return p.identity }

// State returns a copy of the state bag.
func (p *Person) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone()
}

func (p *Person) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.state[key]
	return v, ok
}

// Set writes one field and emits a state-update for it.
func (p *Person) Set(key string, value any) {
	p.mu.Lock()
	p.state[key] = value
	p.mu.Unlock()

	p.emitter.Emit(event.StateUpdate, StateUpdate{Key: key, Value: value})
}

// Update applies Set once per field in sorted key order.
// Fields absent from partial are left untouched.
func (p *Person) Update(partial State) {
	for _, key := range partial.Keys() {
		p.Set(key, partial[key])
	}
}

func (p *Person) On(name string, fn func(StateUpdate)) (off func()) {
	return p.emitter.On(name, fn)
}
