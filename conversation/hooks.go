// ABOUTME: Host-supplied delegate hooks and the navigation capability boundary.
// ABOUTME: Hook calling order is guaranteed: modify -> transmit -> didSend.

package conversation

import (
	"context"

	"github.com/2389/agentforce-go/wire"
)

// Delegate receives lifecycle hooks from a conversation. All methods are
// optional in spirit; embed NoopDelegate to implement a subset.
type Delegate interface {
	// ModifyUtteranceBeforeSending may alter the utterance before it is
	// transmitted but cannot drop it. Returning an error aborts that send;
	// the error is surfaced to the Send caller and on the event bus.
	ModifyUtteranceBeforeSending(ctx context.Context, utt *wire.Utterance) error

	// DidSendUtterance is called after the utterance was transmitted.
	DidSendUtterance(utt wire.Utterance)

	// UserDidSwitchAgents is called when the host moves the user from one
	// agent to another through the client's SwitchAgent convenience.
	UserDidSwitchAgents(from, to wire.Identity)
}

// NoopDelegate implements Delegate with no behavior.
type NoopDelegate struct{}

func (NoopDelegate) ModifyUtteranceBeforeSending(ctx context.Context, utt *wire.Utterance) error {
	return nil
}
func (NoopDelegate) DidSendUtterance(utt wire.Utterance)        {}
func (NoopDelegate) UserDidSwitchAgents(from, to wire.Identity) {}

// Navigator is the host's navigation capability. The conversation emits a
// navigation event whenever remote content resolves to a navigable action and
// additionally invokes the navigator when one is supplied.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// Archiver persists conversation traffic locally. Supplied by hosts that want
// an offline transcript; archiving failures are logged, never fatal.
type Archiver interface {
	SaveUtterance(ctx context.Context, sessionID string, utt wire.Utterance) error
	SaveMessage(ctx context.Context, sessionID string, msg *Message) error
}
