package domain

import (
	"sort"
	"sync"
)

// Capabilities holds plugin-contributed capability instances by namespace.
// Entities embed it instead of receiving dynamic properties.
type Capabilities struct {
	mu    sync.RWMutex
	byKey map[string]any
}

// Attach stores capability under namespace, replacing any previous one.
func (c *Capabilities) Attach(namespace string, capability any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byKey == nil {
		c.byKey = make(map[string]any)
	}
	c.byKey[namespace] = capability
}

func (c *Capabilities) Capability(namespace string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byKey[namespace]
	return v, ok
}

// Namespaces returns the attached namespaces, sorted.
func (c *Capabilities) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byKey))
	for ns := range c.byKey {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// CapabilityAs looks up a capability and asserts its type.
func CapabilityAs[T any](c interface{ Capability(string) (any, bool) }, namespace string) (T, bool) {
	var zero T
	v, ok := c.Capability(namespace)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
