package plugin

import (
	"context"
	stderrors "errors"
	"testing"

	"chat-engine/domain"
	"chat-engine/errors"

	"github.com/stretchr/testify/require"
)

func passThrough(tag string, seen *[]string) Handler {
	return func(_ context.Context, p *domain.Payload) (*domain.Payload, error) {
		*seen = append(*seen, tag)
		return p, nil
	}
}

type counterCapability struct {
	host  domain.Host
	order *[]string
	name  string
	fail  error
}

func (c *counterCapability) Init() error {
	*c.order = append(*c.order, c.name)
	return c.fail
}

func TestRegistry_ChainFor_Registration_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	var seen []string

	// Given three plugins, two of them hooking publish/message
	err := registry.Register(
		Descriptor{Namespace: "first", Middleware: map[domain.Location]map[string]Handler{
			domain.LocationPublish: {"message": passThrough("first", &seen)},
		}},
		Descriptor{Namespace: "unrelated", Middleware: map[domain.Location]map[string]Handler{
			domain.LocationBroadcast: {"message": passThrough("unrelated", &seen)},
			domain.LocationPublish:   {"typing": passThrough("unrelated", &seen)},
		}},
		Descriptor{Namespace: "second", Middleware: map[domain.Location]map[string]Handler{
			domain.LocationPublish: {"message": passThrough("second", &seen)},
		}},
	)
	req.NoError(err)

	// When the publish/message chain is resolved
	chain := registry.ChainFor(domain.LocationPublish, "message")

	// Then only matching handlers are returned, in registration order
	req.Len(chain, 2)
	req.Equal("first", chain[0].Namespace)
	req.Equal("second", chain[1].Namespace)

	// And unrelated pairs resolve independently
	req.Len(registry.ChainFor(domain.LocationBroadcast, "message"), 1)
	req.Empty(registry.ChainFor(domain.LocationBroadcast, "join"))
}

func TestRegistry_Register_Replaces_Active_Set(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	var seen []string

	req.NoError(registry.Register(Descriptor{Namespace: "old", Middleware: map[domain.Location]map[string]Handler{
		domain.LocationPublish: {"message": passThrough("old", &seen)},
	}}))

	// When a new set is registered
	req.NoError(registry.Register(Descriptor{Namespace: "fresh"}))

	// Then the old plugin is gone
	req.Equal([]string{"fresh"}, registry.Namespaces())
	req.Empty(registry.ChainFor(domain.LocationPublish, "message"))
}

func TestRegistry_Register_Rejects_Invalid_Descriptors(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	req.NoError(registry.Register(Descriptor{Namespace: "keep"}))

	tests := []struct {
		name        string
		descriptors []Descriptor
		expected    error
	}{
		{
			name:        "Empty namespace",
			descriptors: []Descriptor{{Namespace: ""}},
			expected:    errors.ErrInvalidPlugin,
		},
		{
			name:        "Namespace with spaces",
			descriptors: []Descriptor{{Namespace: "bad name"}},
			expected:    errors.ErrInvalidPlugin,
		},
		{
			name:        "Duplicate namespace",
			descriptors: []Descriptor{{Namespace: "twin"}, {Namespace: "twin"}},
			expected:    errors.ErrDuplicateNamespace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(tt.descriptors...)
			req.ErrorIs(err, tt.expected)
			// The previous set survives a rejected registration
			req.Equal([]string{"keep"}, registry.Namespaces())
		})
	}
}

func TestRegistry_Augment_Attaches_By_Kind_In_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	var order []string

	factory := func(name string) Factory {
		return func(host domain.Host) any {
			return &counterCapability{host: host, order: &order, name: name}
		}
	}
	req.NoError(registry.Register(
		Descriptor{Namespace: "alpha", Capabilities: map[domain.Kind]Factory{domain.KindUser: factory("alpha")}},
		Descriptor{Namespace: "mine", Capabilities: map[domain.Kind]Factory{domain.KindMe: factory("mine")}},
		Descriptor{Namespace: "beta", Capabilities: map[domain.Kind]Factory{domain.KindUser: factory("beta")}},
	))

	user := domain.NewUser("u1", nil)

	// When a user is augmented
	req.NoError(registry.Augment(user))

	// Then only User capabilities are attached, initialized in registration order
	req.Equal([]string{"alpha", "beta"}, user.Namespaces())
	req.Equal([]string{"alpha", "beta"}, order)

	// And the capability knows its host without a property injected on it
	capability, ok := domain.CapabilityAs[*counterCapability](user, "alpha")
	req.True(ok)
	req.Equal("u1", capability.host.Identity())
}

func TestRegistry_Augment_Init_Failure_Is_Returned(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	var order []string
	boom := stderrors.New("boom")

	req.NoError(registry.Register(
		Descriptor{Namespace: "broken", Capabilities: map[domain.Kind]Factory{
			domain.KindUser: func(host domain.Host) any {
				return &counterCapability{host: host, order: &order, name: "broken", fail: boom}
			},
		}},
		Descriptor{Namespace: "after", Capabilities: map[domain.Kind]Factory{
			domain.KindUser: func(host domain.Host) any {
				return &counterCapability{host: host, order: &order, name: "after"}
			},
		}},
	))

	// When augmentation hits a failing Init
	err := registry.Augment(domain.NewUser("u1", nil))

	// Then the construction fails and later plugins are not initialized
	req.ErrorIs(err, errors.ErrConstruction)
	req.ErrorIs(err, boom)
	req.Equal([]string{"broken"}, order)
}
