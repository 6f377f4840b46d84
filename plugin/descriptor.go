// Package plugin holds the set of installed plugins. It augments entities
// with plugin capabilities and resolves middleware chains.
package plugin

import (
	"context"

	"chat-engine/domain"
)

// Handler is one middleware stage. It receives the live payload and returns
// the payload for the next stage, or an error aborting the chain.
type Handler func(ctx context.Context, payload *domain.Payload) (*domain.Payload, error)

// Factory builds the capability attached to one entity.
type Factory func(host domain.Host) any

// Initializer is the reserved hook run right after a capability is attached.
type Initializer interface {
	Init() error
}

// Descriptor describes a plugin. It must not change once registered.
type Descriptor struct {
	Namespace    string `validate:"required,alphanum,max=64"`
	Capabilities map[domain.Kind]Factory
	Middleware   map[domain.Location]map[string]Handler
}

// Stage is a handler with the namespace that contributed it.
type Stage struct {
	Namespace string
	Handler   Handler
}

// Augmentable is an entity that can receive capabilities.
type Augmentable interface {
	domain.Host
	Attach(namespace string, capability any)
}
