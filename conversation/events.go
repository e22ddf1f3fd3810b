// ABOUTME: Event model delivered to host subscribers: state changes, message deltas, errors.
// ABOUTME: Events carry deep-copied payloads; nothing delivered here aliases reconciler state.

package conversation

// EventType identifies the kind of event a subscriber received.
type EventType int

const (
	EventStateChanged EventType = iota
	EventMessageUpdated
	EventMessageFinalized
	EventError
	EventNavigation
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventMessageUpdated:
		return "message_updated"
	case EventMessageFinalized:
		return "message_finalized"
	case EventError:
		return "error"
	case EventNavigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// Event is one notification published to subscribers. Which fields are set
// depends on Type. Dropped is this subscriber's cumulative count of
// notifications evicted because the subscriber fell behind; the underlying
// finalized history is never lost and remains fetchable via Snapshot.
type Event struct {
	Type    EventType
	State   State    // EventStateChanged
	Message *Message // EventMessageUpdated, EventMessageFinalized
	Err     error    // EventError
	Target  string   // EventNavigation: host-navigable target descriptor
	Dropped uint64
}
