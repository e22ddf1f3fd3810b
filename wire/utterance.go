// ABOUTME: Outbound utterance and one-shot request body shapes.
// ABOUTME: Shared by the conversation layer, the default transport, and the stub service.

package wire

import "time"

// Utterance is one user-originated text (plus optional attachment) sent into
// a conversation. A host may mutate it in a pre-send hook; once transmitted it
// is treated as immutable.
type Utterance struct {
	Text            string      `json:"text"`
	Attachment      *Attachment `json:"attachment,omitempty"`
	ClientTimestamp time.Time   `json:"clientTimestamp,omitzero"`
}

// Attachment is a file carried alongside an utterance.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// SendRequest is the body of a send-message one-shot call.
type SendRequest struct {
	SessionID string    `json:"sessionId"`
	Utterance Utterance `json:"utterance"`
}

// SessionRequest is the body of end/close/transcript one-shot calls.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionResponse is returned by the session-creating handshake.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
}
