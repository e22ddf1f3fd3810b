// ABOUTME: Reconciled logical messages exposed to hosts.
// ABOUTME: Messages are owned by the reconciler until finalized, then read-only.

package conversation

import "github.com/2389/agentforce-go/component"

// CompletionState tracks whether a message is still streaming.
type CompletionState int

const (
	CompletionStreaming CompletionState = iota
	CompletionComplete
)

// String returns the state name.
func (s CompletionState) String() string {
	switch s {
	case CompletionStreaming:
		return "streaming"
	case CompletionComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Message is the reconciled logical unit built from one or more frames.
// Instances handed out through events and snapshots are deep copies; a
// message that has reached CompletionComplete never changes content.
type Message struct {
	ID         string
	Components []component.Component
	Completion CompletionState
}

// clone deep-copies a message for handing outside the reconciler.
func (m *Message) clone() *Message {
	out := &Message{
		ID:         m.ID,
		Completion: m.Completion,
	}
	out.Components = make([]component.Component, len(m.Components))
	for i, c := range m.Components {
		out.Components[i] = c.Clone()
	}
	return out
}
