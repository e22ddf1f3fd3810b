// Package auth defines the credential boundary between the SDK and its host.
//
// The SDK never stores or refreshes tokens. A host supplies a Source, and
// every network operation asks it for fresh credentials under a configured
// timeout; expiry of that timeout is an auth failure, not a transport one.
// Credentials form a closed sum: OAuth user tokens or org-scoped JWTs.
// JWTSource mints the latter from a shared secret for development setups.
package auth
