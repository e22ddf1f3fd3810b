// ABOUTME: Transport capability boundary: one-shot requests and long-lived frame streams.
// ABOUTME: The SDK defines the frame shape contract; implementations own bytes-on-wire.

package transport

import (
	"context"
	"fmt"

	"github.com/2389/agentforce-go/auth"
	"github.com/2389/agentforce-go/wire"
)

// Method names the one-shot operations a channel must support.
type Method string

const (
	MethodSendMessage  Method = "message"
	MethodEndSession   Method = "end"
	MethodCloseSession Method = "close"
	MethodTranscript   Method = "transcript"
)

// Error reports a transport-level failure: connectivity, a non-2xx response,
// or a dropped stream. Status is the HTTP status code when one was received,
// zero otherwise.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StreamOptions carries the optional parts of a stream handshake.
type StreamOptions struct {
	// SessionID resumes a prior session when non-empty.
	SessionID string
	// InitialUtterance is transmitted as part of the handshake when set.
	InitialUtterance *wire.Utterance
}

// Stream is a long-lived cancellable frame channel. Frames closes on end of
// stream; Err is non-nil afterwards only if the stream terminated abnormally,
// so a clean remote close is distinguishable from an error. Frame delivery
// order is preserved per message id.
type Stream interface {
	// SessionID returns the session token confirmed by the handshake.
	SessionID() string
	Frames() <-chan wire.MessageFrame
	Err() error
	Close() error
}

// Channel performs authenticated calls against the remote service. Credentials
// are supplied fresh per call and must not be retained by implementations.
type Channel interface {
	Request(ctx context.Context, creds auth.Credentials, method Method, body []byte) ([]byte, error)
	OpenStream(ctx context.Context, creds auth.Credentials, identity wire.Identity, opts StreamOptions) (Stream, error)
}
