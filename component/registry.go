// ABOUTME: Ordered provider registry mapping frame type tags to resolved components.
// ABOUTME: First matching provider wins; unknown tags fall through to an opaque pass-through.

package component

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/agentforce-go/wire"
)

// Provider answers whether it can resolve a given component type tag and, if
// so, turns a frame into a Component. Hosts register providers to extend or
// override how payload types render.
type Provider interface {
	CanHandle(typeTag string) bool
	Resolve(frame wire.MessageFrame) (Component, error)
}

// Registry holds an ordered list of providers consulted first-match-wins.
// A builtin provider for the known type tags and a terminal opaque
// pass-through are always present, so resolution never fails on an unknown
// tag — forward compatibility when the service introduces new types.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	logger    *slog.Logger
}

// NewRegistry creates a registry seeded with the builtin provider. Pass nil
// logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: []Provider{builtinProvider{}},
		logger:    logger.With("component", "registry"),
	}
}

// Register prepends a provider so it is consulted before earlier
// registrations and before the builtin defaults.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append([]Provider{p}, r.providers...)
	r.logger.Debug("provider registered", "total_providers", len(r.providers))
}

// Resolve maps a frame to a Component through the provider chain. Unknown
// type tags resolve to an opaque pass-through component, never an error; a
// provider failure falls back the same way so a misbehaving host provider
// cannot drop service content.
func (r *Registry) Resolve(frame wire.MessageFrame) Component {
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()

	for _, p := range providers {
		if !p.CanHandle(frame.ComponentType) {
			continue
		}
		c, err := p.Resolve(frame)
		if err != nil {
			r.logger.Warn("provider failed to resolve frame, passing through",
				"component_type", frame.ComponentType,
				"message_id", frame.MessageID,
				"error", err)
			break
		}
		return c
	}

	return opaque(frame)
}

// opaque wraps a frame payload untouched for types nothing claims.
func opaque(frame wire.MessageFrame) Component {
	return Component{
		Type:    frame.ComponentType,
		Payload: frame.Payload,
	}
}

// builtinProvider resolves the component types the service is known to emit.
type builtinProvider struct{}

func (builtinProvider) CanHandle(typeTag string) bool {
	switch typeTag {
	case wire.ComponentRichText, wire.ComponentChoices, wire.ComponentAttachment,
		wire.ComponentPageReference, wire.ComponentEscalation, wire.ComponentSessionEnd:
		return true
	}
	return false
}

func (builtinProvider) Resolve(frame wire.MessageFrame) (Component, error) {
	c := Component{
		Type:    frame.ComponentType,
		Payload: frame.Payload,
	}
	c.Title, _ = frame.Payload["title"].(string)
	c.Text, _ = frame.Payload["text"].(string)

	switch frame.ComponentType {
	case wire.ComponentChoices:
		raw, ok := frame.Payload["choices"].([]any)
		if !ok {
			return Component{}, fmt.Errorf("choices component missing choices list")
		}
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return Component{}, fmt.Errorf("choice entry is not a string: %v", v)
			}
			c.Choices = append(c.Choices, s)
		}

	case wire.ComponentPageReference:
		target, ok := frame.Payload["target"].(string)
		if !ok || target == "" {
			return Component{}, fmt.Errorf("page reference component missing target")
		}
		c.Target = target
	}

	return c, nil
}

// ProviderFunc adapts a pair of functions to the Provider interface.
type ProviderFunc struct {
	Handles  func(typeTag string) bool
	Resolver func(frame wire.MessageFrame) (Component, error)
}

// CanHandle implements Provider.
func (p ProviderFunc) CanHandle(typeTag string) bool { return p.Handles(typeTag) }

// Resolve implements Provider.
func (p ProviderFunc) Resolve(frame wire.MessageFrame) (Component, error) {
	return p.Resolver(frame)
}
