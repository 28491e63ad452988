// Package session persists per-(user, employee) identifiers and the
// conversation transcript, so a restarted client can rebind its session and
// reconcile its history.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/parley/internal/chat"
)

// Store is the SQLite-backed implementation of chat.IdentityStore and
// chat.HistoryStore.
type Store struct {
	db  *sql.DB
	idx *SearchIndex
}

// Open creates or opens the store under basePath (typically the user config
// dir). The transcript search index lives alongside the database.
func Open(ctx context.Context, basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	dbPath := filepath.Join(basePath, "sessions.db")

	// WAL mode allows a reader while the single writer is busy.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping session database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	idx, err := NewSearchIndex(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.idx = idx
	return s, nil
}

// Close releases the database and the search index.
func (s *Store) Close() error {
	if s.idx != nil {
		if err := s.idx.Close(); err != nil {
			s.db.Close()
			return err
		}
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	-- One row per (user, employee) pair; identifiers overwrite independently.
	CREATE TABLE IF NOT EXISTS identities (
		user_id       TEXT NOT NULL,
		employee_slug TEXT NOT NULL,
		session_id    TEXT NOT NULL DEFAULT '',
		thread_id     TEXT NOT NULL DEFAULT '',
		updated_at    INTEGER NOT NULL,
		PRIMARY KEY (user_id, employee_slug)
	);

	-- Committed transcript messages per scope key.
	CREATE TABLE IF NOT EXISTS messages (
		message_id        TEXT PRIMARY KEY,
		scope_key         TEXT NOT NULL,
		role              TEXT NOT NULL,
		content           TEXT NOT NULL,
		request_id        TEXT NOT NULL DEFAULT '',
		client_message_id TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_scope ON messages(scope_key, created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// Identity returns the persisted identifiers for a (user, employee) pair.
// Unknown pairs return an empty identity, not an error.
func (s *Store) Identity(userID, employeeSlug string) (chat.SessionIdentity, error) {
	var id chat.SessionIdentity
	err := s.db.QueryRow(
		`SELECT session_id, thread_id FROM identities WHERE user_id = ? AND employee_slug = ?`,
		userID, employeeSlug,
	).Scan(&id.SessionID, &id.ThreadID)
	if err == sql.ErrNoRows {
		return chat.SessionIdentity{}, nil
	}
	if err != nil {
		return chat.SessionIdentity{}, fmt.Errorf("failed to load identity: %w", err)
	}
	return id, nil
}

// SaveSessionID overwrites the session identifier, leaving the thread alone.
func (s *Store) SaveSessionID(userID, employeeSlug, sessionID string) error {
	return s.upsertIdentity(userID, employeeSlug, "session_id", sessionID)
}

// SaveThreadID overwrites the thread identifier, leaving the session alone.
func (s *Store) SaveThreadID(userID, employeeSlug, threadID string) error {
	return s.upsertIdentity(userID, employeeSlug, "thread_id", threadID)
}

// ClearThread drops the thread identifier so the next send binds fresh.
func (s *Store) ClearThread(userID, employeeSlug string) error {
	return s.upsertIdentity(userID, employeeSlug, "thread_id", "")
}

func (s *Store) upsertIdentity(userID, employeeSlug, column, value string) error {
	// column is one of two compile-time constants, never user input.
	query := fmt.Sprintf(`
		INSERT INTO identities (user_id, employee_slug, %s, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, employee_slug)
		DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at`,
		column, column, column)
	if _, err := s.db.Exec(query, userID, employeeSlug, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save %s: %w", column, err)
	}
	return nil
}

// AppendMessage persists one committed message and indexes it for search.
// Re-appending the same message id overwrites in place.
func (s *Store) AppendMessage(scopeKey string, m chat.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (message_id, scope_key, role, content, request_id, client_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET content = excluded.content, created_at = excluded.created_at`,
		m.ID, scopeKey, string(m.Role), m.Content, m.RequestID, m.ClientMessageID, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	return s.idx.IndexMessage(scopeKey, m)
}

// History returns the persisted transcript for a scope, oldest first.
func (s *Store) History(scopeKey string) ([]chat.Message, error) {
	rows, err := s.db.Query(`
		SELECT message_id, role, content, request_id, client_message_id, created_at
		FROM messages WHERE scope_key = ? ORDER BY created_at ASC`, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Search runs a full-text query over the scope's transcript and resolves the
// hits back to full messages.
func (s *Store) Search(scopeKey, query string, k int) ([]chat.SearchHit, error) {
	ids, scores, err := s.idx.Search(scopeKey, query, k)
	if err != nil {
		return nil, err
	}

	hits := make([]chat.SearchHit, 0, len(ids))
	for i, id := range ids {
		row := s.db.QueryRow(`
			SELECT message_id, role, content, request_id, client_message_id, created_at
			FROM messages WHERE message_id = ?`, id)
		m, err := scanMessage(row.Scan)
		if err == sql.ErrNoRows {
			continue // index ahead of the table, skip
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, chat.SearchHit{Message: m, Score: scores[i]})
	}
	return hits, nil
}

func scanMessage(scan func(...any) error) (chat.Message, error) {
	var m chat.Message
	var role string
	var createdAt int64
	if err := scan(&m.ID, &role, &m.Content, &m.RequestID, &m.ClientMessageID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return chat.Message{}, err
		}
		return chat.Message{}, fmt.Errorf("failed to scan message row: %w", err)
	}
	m.Role = chat.Role(role)
	if createdAt > 0 {
		m.CreatedAt = time.UnixMilli(createdAt)
	}
	return m, nil
}
