// Package transport defines the channel boundary between the SDK and the
// remote agent service, plus the default HTTP+SSE implementation.
//
// A Channel supports two interaction shapes: one-shot request/response calls
// (send, end, close, transcript) and a long-lived Stream of message frames.
// The SDK owns the frame shape contract; implementations own bytes-on-wire,
// so hosts with their own networking stack can supply a custom Channel.
//
// The default HTTPChannel POSTs one-shot calls to {base}/v1/{method} and
// opens the stream as a POST to /v1/stream answered with Server-Sent Events.
// The first event must be a session handshake; frame events follow, and the
// server signals a clean close with an end event. A connection that drops
// without an end event surfaces as a stream error, as does a stream that goes
// idle mid-message beyond the configured idle timeout.
package transport
