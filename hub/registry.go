package hub

import (
	"sort"
	"sync"
	"time"

	"chat-engine/contract"
	"chat-engine/domain"

	"github.com/samber/lo"
)

// Session is one connection to the hub.
type Session struct {
	ID       string
	Identity string
	Sink     contract.EventSink
	LastSeen time.Time
}

type member struct {
	sessionID string
	presence  bool
}

// Registry tracks sessions, channel membership and presence state.
// A channel occupant is an identity with at least one subscribed session.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[string]*Session          // session id -> session
	channelMembers map[string]map[string]member // channel -> session id -> membership
	states         map[string]map[string]domain.State
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:       make(map[string]*Session),
		channelMembers: make(map[string]map[string]member),
		states:         make(map[string]map[string]domain.State),
	}
}

func (r *Registry) Register(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
}

func (r *Registry) Session(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Unregister removes the session and returns the channels its identity
// no longer occupies.
func (r *Registry) Unregister(sessionID string) (*Session, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	var vacated []string
	for channel, members := range r.channelMembers {
		if _, in := members[sessionID]; !in {
			continue
		}
		if r.removeLocked(channel, session) {
			vacated = append(vacated, channel)
		}
	}
	delete(r.sessions, sessionID)
	sort.Strings(vacated)
	return session, vacated
}

// Subscribe adds the session to channel. It reports whether the session's
// identity just became an occupant.
func (r *Registry) Subscribe(sessionID, channel string, withPresence bool) (joined bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return false, false
	}
	members, exists := r.channelMembers[channel]
	if !exists {
		members = make(map[string]member)
		r.channelMembers[channel] = members
	}
	wasPresent := r.occupiesLocked(channel, session.Identity)
	members[sessionID] = member{sessionID: sessionID, presence: withPresence}
	return !wasPresent, true
}

// Unsubscribe removes the session from channel. It reports whether the
// session's identity stopped being an occupant.
func (r *Registry) Unsubscribe(sessionID, channel string) (left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if _, in := r.channelMembers[channel][sessionID]; !in {
		return false
	}
	return r.removeLocked(channel, session)
}

func (r *Registry) removeLocked(channel string, session *Session) bool {
	members := r.channelMembers[channel]
	delete(members, session.ID)

	// If no one is left in the channel, remove the channel entry entirely
	if len(members) == 0 {
		delete(r.channelMembers, channel)
	}
	if r.occupiesLocked(channel, session.Identity) {
		return false
	}
	delete(r.states[channel], session.Identity)
	if len(r.states[channel]) == 0 {
		delete(r.states, channel)
	}
	return true
}

func (r *Registry) occupiesLocked(channel, identity string) bool {
	for id := range r.channelMembers[channel] {
		if s, ok := r.sessions[id]; ok && s.Identity == identity {
			return true
		}
	}
	return false
}

// GetSinksForChannel returns the sinks of the channel members.
// presenceOnly restricts the result to members subscribed with presence.
func (r *Registry) GetSinksForChannel(channel string, presenceOnly bool) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.channelMembers[channel]
	if !ok {
		return nil
	}
	ids := lo.Keys(members)
	sort.Strings(ids)

	var sinks []contract.EventSink
	for _, id := range ids {
		if presenceOnly && !members[id].presence {
			continue
		}
		if session, exists := r.sessions[id]; exists {
			sinks = append(sinks, session.Sink)
		}
	}
	return sinks
}

func (r *Registry) SetState(channel, identity string, state domain.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[channel]; !ok {
		r.states[channel] = make(map[string]domain.State)
	}
	r.states[channel][identity] = state.Clone()
}

func (r *Registry) State(channel, identity string) domain.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[channel][identity].Clone()
}

// Occupants lists the identities present on channel with their state, sorted.
func (r *Registry) Occupants(channel string) []domain.Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := lo.Uniq(lo.FilterMap(lo.Keys(r.channelMembers[channel]), func(id string, _ int) (string, bool) {
		s, ok := r.sessions[id]
		if !ok {
			return "", false
		}
		return s.Identity, true
	}))
	sort.Strings(identities)

	return lo.Map(identities, func(identity string, _ int) domain.Occupant {
		return domain.Occupant{Identity: identity, State: r.states[channel][identity].Clone()}
	})
}

// Channels returns the channels the session is subscribed to, sorted.
func (r *Registry) Channels(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for channel, members := range r.channelMembers {
		if _, ok := members[sessionID]; ok {
			out = append(out, channel)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Touch(sessionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.LastSeen = at
	}
}

// Idle returns the sessions not seen since before.
func (r *Registry) Idle(before time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, s := range r.sessions {
		if s.LastSeen.Before(before) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
