// ABOUTME: Conversation-level error taxonomy: usage, protocol, and cancellation faults.
// ABOUTME: Auth and transport errors live with their own packages; see auth.Error and transport.Error.

package conversation

import "fmt"

// UsageError reports an operation that is invalid for the conversation's
// current state or the client's configuration mode. It is a local,
// synchronous rejection: nothing was sent and no state changed.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// ProtocolViolationError reports a frame sequence fault: a gap, a duplicate
// final, or a frame for an already-completed message. Message-history
// integrity can no longer be guaranteed, so protocol violations are always
// fatal to the conversation.
type ProtocolViolationError struct {
	MessageID string
	Reason    string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation on message %s: %s", e.MessageID, e.Reason)
}

// CancellationError reports a send that was cancelled while queued or in
// flight because the conversation was closed or the caller's context expired.
type CancellationError struct {
	Op string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s cancelled", e.Op)
}
