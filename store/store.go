// ABOUTME: Transcript store interface and entry types for local conversation history.
// ABOUTME: Entries are sent utterances and finalized agent messages, in insertion order.

package store

import (
	"context"
	"time"

	"github.com/2389/agentforce-go/conversation"
)

// EntryKind distinguishes outbound utterances from reconciled agent messages.
type EntryKind string

const (
	EntryUtterance EntryKind = "utterance"
	EntryMessage   EntryKind = "message"
)

// Entry is one archived unit of conversation traffic. Components holds the
// JSON-encoded resolved component list for message entries.
type Entry struct {
	ID         string
	SessionID  string
	Kind       EntryKind
	Text       string
	Components string
	CreatedAt  time.Time
}

// Transcript archives conversation traffic and serves it back for offline
// history. Implementations must be safe for concurrent use.
type Transcript interface {
	conversation.Archiver

	ListEntries(ctx context.Context, sessionID string, limit int) ([]*Entry, error)
	Close() error
}
