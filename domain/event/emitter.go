package event

import "sync"

// Emitter is a local, synchronous event emitter.
// Listeners are invoked in subscription order on the goroutine calling Emit.
// Emit snapshots the listeners before calling them, so a listener may
// subscribe or unsubscribe without deadlocking.
type Emitter[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{listeners: make(map[string][]listener[T])}
}

// On registers fn for the named event and returns a function removing it.
func (e *Emitter[T]) On(name string, fn func(T)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[name] = append(e.listeners[name], listener[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { e.off(name, id) })
	}
}

func (e *Emitter[T]) off(name string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[name]
	for i, l := range current {
		if l.id == id {
			e.listeners[name] = append(current[:i:i], current[i+1:]...)
			break
		}
	}
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

// Emit calls every listener registered for name and reports how many ran.
func (e *Emitter[T]) Emit(name string, value T) int {
	e.mu.RLock()
	snapshot := make([]listener[T], len(e.listeners[name]))
	copy(snapshot, e.listeners[name])
	e.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(value)
	}
	return len(snapshot)
}

// ListenerCount returns the number of listeners registered for name.
func (e *Emitter[T]) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}
