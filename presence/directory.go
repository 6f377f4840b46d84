// Package presence keeps the directory of remote users and turns presence
// events into directory mutations.
package presence

import (
	stderrors "errors"
	"log/slog"
	"sort"
	"sync"

	"chat-engine/domain"
	"chat-engine/domain/event"

	"github.com/samber/lo"
)

// UserFactory builds a directory entry. It is expected to augment the user
// with plugins; an error means the user must not be inserted.
type UserFactory func(identity string, state domain.State) (*domain.User, error)

// Announcement is a broadcast the owner of the directory must emit.
type Announcement struct {
	Event    string
	User     *domain.User
	Presence domain.PresenceEvent
}

// Directory maps remote identities to User entities.
// Mutations are serialized by applyMu so two presence events never interleave
// their read-modify-write; lookups only take the map lock.
type Directory struct {
	applyMu sync.Mutex

	mu      sync.RWMutex
	users   map[string]*domain.User
	log     *slog.Logger
	factory UserFactory
}

func NewDirectory(log *slog.Logger, factory UserFactory) *Directory {
	if factory == nil {
		factory = func(identity string, state domain.State) (*domain.User, error) {
			return domain.NewUser(identity, state), nil
		}
	}
	return &Directory{
		users:   make(map[string]*domain.User),
		log:     log,
		factory: factory,
	}
}

func (d *Directory) Get(identity string) (*domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[identity]
	return u, ok
}

// Users returns the current users sorted by identity.
func (d *Directory) Users() []*domain.User {
	d.mu.RLock()
	users := lo.Values(d.users)
	d.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Identity() < users[j].Identity() })
	return users
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Reset drops every user.
func (d *Directory) Reset() {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = make(map[string]*domain.User)
}

// Apply reconciles one presence event. It returns the broadcast to emit,
// if any. Events about unknown identities without committed state are dropped.
func (d *Directory) Apply(ev domain.PresenceEvent) (Announcement, bool, error) {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	existing, known := d.Get(ev.Identity)

	switch ev.Action {
	case domain.ActionJoin:
		if known {
			return Announcement{}, false, nil
		}
		return d.materialize(ev)

	case domain.ActionLeave:
		if !known {
			return Announcement{}, false, nil
		}
		d.mu.Lock()
		delete(d.users, ev.Identity)
		d.mu.Unlock()
		return Announcement{Event: event.Leave, User: existing, Presence: ev}, true, nil

	case domain.ActionTimeout:
		return Announcement{Event: event.Timeout, User: existing, Presence: ev}, true, nil

	case domain.ActionStateChange:
		if known {
			existing.Update(ev.State)
			return Announcement{Event: event.StateChange, User: existing, Presence: ev}, true, nil
		}
		// A state-change for an unknown but committed identity is a late join.
		return d.materialize(ev)
	}

	d.log.Debug("Ignoring unknown presence action", "action", ev.Action, "identity", ev.Identity)
	return Announcement{}, false, nil
}

// materialize creates the user for ev when its state is committed and
// announces it as a join. Callers hold applyMu.
func (d *Directory) materialize(ev domain.PresenceEvent) (Announcement, bool, error) {
	if !ev.State.Initialized() {
		d.log.Debug("Dropping presence for uninitialized identity", "identity", ev.Identity, "action", ev.Action)
		return Announcement{}, false, nil
	}
	user, err := d.factory(ev.Identity, ev.State)
	if err != nil {
		return Announcement{}, false, err
	}

	d.mu.Lock()
	d.users[ev.Identity] = user
	d.mu.Unlock()

	join := ev
	join.Action = domain.ActionJoin
	return Announcement{Event: event.Join, User: user, Presence: join}, true, nil
}

// Reconcile applies a presence query result. Every occupant goes through the
// create-or-merge rule of state-change, then each occupant holding an entity
// is announced as a join, known or not, so late listeners see everyone.
// Construction failures are joined and returned; the other occupants are
// still processed.
func (d *Directory) Reconcile(channel string, occupants []domain.Occupant) ([]Announcement, error) {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	var (
		announcements []Announcement
		errs          []error
	)
	for _, occupant := range occupants {
		ev := domain.PresenceEvent{
			Channel:  channel,
			Identity: occupant.Identity,
			Action:   domain.ActionJoin,
			State:    occupant.State,
		}

		user, known := d.Get(occupant.Identity)
		switch {
		case known:
			user.Update(occupant.State)
		case occupant.State.Initialized():
			ann, ok, err := d.materialize(ev)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				continue
			}
			user = ann.User
		default:
			continue
		}
		announcements = append(announcements, Announcement{Event: event.Join, User: user, Presence: ev})
	}
	return announcements, stderrors.Join(errs...)
}
