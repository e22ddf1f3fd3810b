// Package store persists conversation traffic to a local SQLite transcript.
//
// SQLiteStore implements the conversation.Archiver capability: outbound
// utterances and finalized agent messages are appended as entries keyed by
// session, with the resolved component list stored as JSON. Hosts that want
// offline history wire it into the client; archiving failures are logged by
// the conversation layer and never fatal.
package store
