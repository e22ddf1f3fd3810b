// ABOUTME: Wire-level frame types shared by transports, the reconciler, and host apps.
// ABOUTME: Defines the frame shape contract; bytes-on-wire serialization belongs to transports.

package wire

import (
	"errors"
	"fmt"
	"time"
)

// Known component type tags emitted by the remote service. Tags outside this
// set are carried through the pipeline untouched so newer service versions
// keep working against older SDK builds.
const (
	ComponentRichText      = "AF_RICH_TEXT"
	ComponentChoices       = "AF_CHOICES"
	ComponentAttachment    = "AF_ATTACHMENT"
	ComponentPageReference = "AF_PAGE_REFERENCE"
	ComponentEscalation    = "AF_ESCALATION"
	ComponentSessionEnd    = "AF_SESSION_END"
)

// Frame validation errors
var (
	ErrMissingMessageID = errors.New("frame missing message id")
	ErrNegativeSequence = errors.New("frame sequence number is negative")
	ErrMissingComponent = errors.New("frame missing component type")
)

// MessageFrame is one wire-level delta of a logical agent message. Frames with
// the same MessageID and increasing SequenceNumber are deltas of one message;
// IsFinal marks the last delta.
type MessageFrame struct {
	MessageID         string         `json:"messageId"`
	SequenceNumber    int64          `json:"sequenceNumber"`
	IsFinal           bool           `json:"isFinal"`
	ComponentType     string         `json:"componentType"`
	Payload           map[string]any `json:"payload,omitempty"`
	ConversationState string         `json:"conversationState,omitempty"`
	Timestamp         time.Time      `json:"timestamp,omitzero"`
}

// Validate checks the structural invariants a frame must satisfy before it is
// handed to the reconciler. Transports reject invalid frames at decode time.
func (f *MessageFrame) Validate() error {
	if f.MessageID == "" {
		return ErrMissingMessageID
	}
	if f.SequenceNumber < 0 {
		return fmt.Errorf("%w: %d for message %s", ErrNegativeSequence, f.SequenceNumber, f.MessageID)
	}
	if f.ComponentType == "" {
		return fmt.Errorf("%w: message %s seq %d", ErrMissingComponent, f.MessageID, f.SequenceNumber)
	}
	return nil
}
