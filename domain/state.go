package domain

import (
	"maps"
	"sort"
)

// InitializedKey marks a state bag as committed by its owner.
// Remote entities are only materialized once this flag is observed true.
const InitializedKey = "_initialized"

// State is the key-value bag shared through presence.
type State map[string]any

// Initialized reports whether the owner committed this state.
func (s State) Initialized() bool {
	v, ok := s[InitializedKey].(bool)
	return ok && v
}

// Clone returns a shallow copy, never nil.
func (s State) Clone() State {
	out := make(State, len(s))
	maps.Copy(out, s)
	return out
}

// Keys returns the keys in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StateUpdate is emitted once per field written on an entity.
type StateUpdate struct {
	Key   string
	Value any
}
