// ABOUTME: Resolved render units produced from wire frames.
// ABOUTME: Components are rendering-technology agnostic; hosts map them to actual views.

package component

import (
	"maps"

	"github.com/2389/agentforce-go/wire"
)

// Component is a resolved, renderable unit of an agent message. Which fields
// are populated depends on the component type; Payload always carries the raw
// frame payload so hosts can reach fields the SDK does not model.
type Component struct {
	Type    string
	Title   string
	Text    string
	Choices []string
	Target  string
	Payload map[string]any
}

// IsNavigation reports whether the component carries a navigable target the
// host should route through its navigation capability.
func (c Component) IsNavigation() bool {
	return c.Type == wire.ComponentPageReference && c.Target != ""
}

// Clone returns a deep copy so finalized history can be handed to callers
// without sharing mutable state.
func (c Component) Clone() Component {
	out := c
	if c.Choices != nil {
		out.Choices = append([]string(nil), c.Choices...)
	}
	if c.Payload != nil {
		out.Payload = maps.Clone(c.Payload)
	}
	return out
}
