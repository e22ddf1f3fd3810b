// ABOUTME: Folds per-id-ordered frame streams into the ordered message history.
// ABOUTME: Sequence gaps and frames after a final are protocol violations, fatal to the conversation.

package conversation

import (
	"fmt"
	"sync"

	"github.com/2389/agentforce-go/component"
	"github.com/2389/agentforce-go/wire"
)

// Reconciler merges streamed frames into Messages. It tracks one in-progress
// message per id and moves messages to the finalized history in delivery
// order, keeping concurrent multi-message emission deterministic.
type Reconciler struct {
	registry *component.Registry

	mu           sync.Mutex
	inProgress   map[string]*Message
	partialOrder []string // in-progress ids in first-frame-arrival order
	lastSeq      map[string]int64
	completed    map[string]struct{}
	history      []*Message // finalized, delivery order
}

// NewReconciler creates a reconciler resolving component payloads through the
// given registry.
func NewReconciler(registry *component.Registry) *Reconciler {
	return &Reconciler{
		registry:   registry,
		inProgress: make(map[string]*Message),
		lastSeq:    make(map[string]int64),
		completed:  make(map[string]struct{}),
	}
}

// Apply folds one frame into the history. It returns a deep copy of the
// affected message and whether the frame finalized it. A non-nil error is a
// protocol violation; the reconciler accepts no further frames for that id
// and the caller must treat the conversation as faulted.
func (r *Reconciler) Apply(frame wire.MessageFrame) (*Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.completed[frame.MessageID]; done {
		return nil, false, &ProtocolViolationError{
			MessageID: frame.MessageID,
			Reason:    fmt.Sprintf("frame seq %d arrived after final frame", frame.SequenceNumber),
		}
	}

	msg, exists := r.inProgress[frame.MessageID]
	if !exists {
		if frame.SequenceNumber != 0 {
			return nil, false, &ProtocolViolationError{
				MessageID: frame.MessageID,
				Reason:    fmt.Sprintf("first frame has seq %d, want 0", frame.SequenceNumber),
			}
		}
		msg = &Message{ID: frame.MessageID, Completion: CompletionStreaming}
		r.inProgress[frame.MessageID] = msg
		r.partialOrder = append(r.partialOrder, frame.MessageID)
	} else if want := r.lastSeq[frame.MessageID] + 1; frame.SequenceNumber != want {
		return nil, false, &ProtocolViolationError{
			MessageID: frame.MessageID,
			Reason:    fmt.Sprintf("sequence gap: got %d, want %d", frame.SequenceNumber, want),
		}
	}
	r.lastSeq[frame.MessageID] = frame.SequenceNumber

	msg.Components = append(msg.Components, r.registry.Resolve(frame))

	if !frame.IsFinal {
		return msg.clone(), false, nil
	}

	msg.Completion = CompletionComplete
	delete(r.inProgress, frame.MessageID)
	r.removePartial(frame.MessageID)
	r.completed[frame.MessageID] = struct{}{}
	r.history = append(r.history, msg)

	return msg.clone(), true, nil
}

func (r *Reconciler) removePartial(id string) {
	for i, v := range r.partialOrder {
		if v == id {
			r.partialOrder = append(r.partialOrder[:i], r.partialOrder[i+1:]...)
			return
		}
	}
}

// History returns deep copies of the finalized messages in delivery order.
func (r *Reconciler) History() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Message, len(r.history))
	for i, m := range r.history {
		out[i] = m.clone()
	}
	return out
}

// Partials returns deep copies of the in-progress messages in
// first-frame-arrival order, so a late subscriber can render what has
// streamed so far without racing live events.
func (r *Reconciler) Partials() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Message, 0, len(r.partialOrder))
	for _, id := range r.partialOrder {
		out = append(out, r.inProgress[id].clone())
	}
	return out
}
