// Package conversation implements the stateful session core: the lifecycle
// state machine, streamed message reconciliation, and event fan-out.
//
// # Lifecycle
//
// A Conversation moves through a small state machine:
//
//	Initializing -> Active <-> Ended -> Closed
//	                  \________________/
//	                          v
//	                        Error
//
// Start opens the frame stream and moves to Active. End tears the session
// down at the transport level but keeps history and the session ID, so a
// later Send resumes the same session. Close is terminal. Error is entered
// on any fault from which message-history integrity cannot be guaranteed;
// the only valid action afterwards is disposal.
//
// # Reconciliation
//
// Agent messages arrive as ordered frame deltas. The Reconciler folds frames
// with the same message ID into one logical Message:
//
//   - the first frame of a message must carry sequence number 0
//   - each later frame must carry exactly the previous number plus one
//   - a frame marked final completes the message; nothing may follow it
//
// Any violation of those rules is a ProtocolViolationError and faults the
// conversation. Finalized messages enter history in delivery order.
//
// # Events
//
// Subscribers receive state changes, message updates, finalizations, errors,
// and navigation signals through a bounded per-subscriber queue. A slow
// subscriber has its oldest queued notification evicted, never the publisher
// blocked; the cumulative eviction count rides on every delivered event. There
// is no replay for late subscribers; Snapshot returns current state, history,
// and in-progress partials to reconcile against.
//
// # Hooks
//
// A host Delegate observes and may modify outbound traffic. Hook order per
// send is fixed: ModifyUtteranceBeforeSending, transmit, DidSendUtterance.
package conversation
