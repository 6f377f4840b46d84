package plugin

import (
	"fmt"
	"sync"

	"chat-engine/domain"
	"chat-engine/errors"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register replaces the active plugin set.
// It must be called before entities are built: entities already augmented
// keep the capabilities they received.
// On error the previous set stays active.
func (r *Registry) Register(descriptors ...Descriptor) error {
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if err := validate.Struct(d); err != nil {
			return fmt.Errorf("%w %q: %v", errors.ErrInvalidPlugin, d.Namespace, err)
		}
		if _, ok := seen[d.Namespace]; ok {
			return fmt.Errorf("%w: %s", errors.ErrDuplicateNamespace, d.Namespace)
		}
		seen[d.Namespace] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = append([]Descriptor(nil), descriptors...)
	return nil
}

// Namespaces returns the registered namespaces in registration order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.descriptors, func(d Descriptor, _ int) string { return d.Namespace })
}

// Augment attaches, in registration order, the capability of every plugin
// declaring one for the target's kind, and runs its Init hook.
// An Init failure stops augmentation: the caller must discard the target.
func (r *Registry) Augment(target Augmentable) error {
	r.mu.RLock()
	descriptors := r.descriptors
	r.mu.RUnlock()

	kind := target.Kind()
	for _, d := range descriptors {
		factory, ok := d.Capabilities[kind]
		if !ok || factory == nil {
			continue
		}
		capability := factory(target)
		target.Attach(d.Namespace, capability)

		if hook, ok := capability.(Initializer); ok {
			if err := hook.Init(); err != nil {
				return fmt.Errorf("%w: %s %q, plugin %s: %w",
					errors.ErrConstruction, kind, target.Identity(), d.Namespace, err)
			}
		}
	}
	return nil
}

// ChainFor returns the handlers registered for (location, event), in registration order.
func (r *Registry) ChainFor(location domain.Location, event string) []Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []Stage
	for _, d := range r.descriptors {
		byEvent, ok := d.Middleware[location]
		if !ok {
			continue
		}
		if h, ok := byEvent[event]; ok && h != nil {
			chain = append(chain, Stage{Namespace: d.Namespace, Handler: h})
		}
	}
	return chain
}
