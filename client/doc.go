// Package client provides AgentClient, the entry point for hosts embedding
// agent conversations.
//
// # Configuration Modes
//
// A client is built in exactly one of three modes:
//
//   - FullConfig: every capability wired explicitly (transport, credentials,
//     component providers, hooks, navigation, archiving)
//   - ServiceAgentConfig: target a service agent by developer name; the
//     default HTTP transport is built from a base URL
//   - EmployeeAgentConfig: target the org's employee agent, resolved
//     server-side from the authenticated user
//
// Service-agent mode is the only mode in which transcript download is
// permitted.
//
// # The Conversation Arena
//
// The client tracks at most one live conversation per agent identity.
// StartConversation returns the existing instance when one is live, so two
// parts of a host asking for the same agent share a session instead of
// opening parallel ones. Closed or faulted conversations are replaced on the
// next request.
package client
