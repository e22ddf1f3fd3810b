// Package wire holds the transport-agnostic wire types: agent identities,
// outbound utterances, and the MessageFrame deltas that streamed agent
// messages arrive as. Everything here is a plain data shape shared by the
// transport, the conversation core, and host applications.
package wire
