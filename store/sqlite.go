// ABOUTME: SQLite implementation of the Transcript store using modernc.org/sqlite.
// ABOUTME: Schema is created automatically; WAL mode for concurrent readers.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/agentforce-go/conversation"
	"github.com/2389/agentforce-go/wire"
)

// SQLiteStore implements the Transcript interface on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a transcript database at the given path.
// Use ":memory:" for an ephemeral store. Parent directories are created as
// needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("transcript store initialized", "path", path)
	return s, nil
}

// createSchema creates tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			components TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entries_session
			ON entries(session_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveUtterance implements conversation.Archiver.
func (s *SQLiteStore) SaveUtterance(ctx context.Context, sessionID string, utt wire.Utterance) error {
	entry := &Entry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      EntryUtterance,
		Text:      utt.Text,
		CreatedAt: time.Now(),
	}
	return s.insert(ctx, entry)
}

// SaveMessage implements conversation.Archiver. The resolved component list
// is stored as JSON alongside the concatenated text for cheap display.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionID string, msg *conversation.Message) error {
	components, err := json.Marshal(msg.Components)
	if err != nil {
		return fmt.Errorf("encoding components: %w", err)
	}

	var texts []string
	for _, c := range msg.Components {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}

	entry := &Entry{
		ID:         msg.ID,
		SessionID:  sessionID,
		Kind:       EntryMessage,
		Text:       strings.Join(texts, "\n"),
		Components: string(components),
		CreatedAt:  time.Now(),
	}
	return s.insert(ctx, entry)
}

func (s *SQLiteStore) insert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO entries (id, session_id, kind, text, components, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.SessionID,
		string(entry.Kind),
		entry.Text,
		entry.Components,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}

	s.logger.Debug("entry archived",
		"entry_id", entry.ID,
		"session_id", entry.SessionID,
		"kind", entry.Kind)
	return nil
}

// ListEntries returns entries for a session in insertion order. A limit of
// zero or less returns everything.
func (s *SQLiteStore) ListEntries(ctx context.Context, sessionID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, session_id, kind, text, components, created_at
		FROM entries
		WHERE session_id = ?
		ORDER BY created_at, rowid
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		var kind, createdAt string
		var components sql.NullString
		if err := rows.Scan(&entry.ID, &entry.SessionID, &kind, &entry.Text, &components, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entry.Kind = EntryKind(kind)
		entry.Components = components.String
		entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing entry timestamp: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
