// Package finder indexes the presence state of remote users and lets the
// local participant search them.
package finder

import (
	"context"
	"log/slog"

	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/plugin"
)

const Namespace = "finder"

// New returns the plugin and the index it feeds. The caller closes the index.
func New(log *slog.Logger) (plugin.Descriptor, *Index, error) {
	index, err := NewIndex(log)
	if err != nil {
		return plugin.Descriptor{}, nil, err
	}
	return Descriptor(index), index, nil
}

func Descriptor(index *Index) plugin.Descriptor {
	return plugin.Descriptor{
		Namespace: Namespace,
		Capabilities: map[domain.Kind]plugin.Factory{
			domain.KindMe: func(domain.Host) any { return &Finder{index: index} },
		},
		Middleware: map[domain.Location]map[string]plugin.Handler{
			domain.LocationBroadcast: {
				event.Join:        index.track,
				event.StateChange: index.track,
				event.Leave:       index.forget,
			},
		},
	}
}

func (i *Index) track(_ context.Context, payload *domain.Payload) (*domain.Payload, error) {
	state := domain.State{}
	switch {
	case payload.User != nil:
		state = payload.User.State()
	case payload.Presence != nil:
		state = payload.Presence.State
	}
	if err := i.Put(payload.Sender, state); err != nil {
		i.log.Warn("Failed to index user", "identity", payload.Sender, "error", err)
	}
	return payload, nil
}

func (i *Index) forget(_ context.Context, payload *domain.Payload) (*domain.Payload, error) {
	if err := i.Remove(payload.Sender); err != nil {
		i.log.Warn("Failed to unindex user", "identity", payload.Sender, "error", err)
	}
	return payload, nil
}

// Finder is the capability attached to the local participant.
type Finder struct {
	index *Index
}

// Find returns the users whose state field equals term.
func (f *Finder) Find(ctx context.Context, field, term string) ([]string, error) {
	return f.index.Find(ctx, field, term)
}

// Match returns the users with any state value matching text.
func (f *Finder) Match(ctx context.Context, text string) ([]string, error) {
	return f.index.Match(ctx, text)
}
