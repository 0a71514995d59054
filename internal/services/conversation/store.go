package conversation

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/legal-qa-backend-go/internal/models"
)

var (
	// ErrSessionNotFound indicates the session does not exist
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotOwner indicates the session belongs to a different account
	ErrNotOwner = errors.New("session owned by another account")
)

// Store persists conversation sessions and their messages
type Store struct {
	db *sql.DB
}

// NewStore opens the conversation database, creating it if needed
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			last_message_at DATETIME NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			was_cached INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session for an owner
func (s *Store) CreateSession(ctx context.Context, ownerID, title string) (*models.ConversationSession, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(owner_id, title, started_at, last_message_at, message_count) VALUES(?,?,?,?,0)`,
		ownerID, title, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.ConversationSession{
		ID:            id,
		OwnerID:       ownerID,
		Title:         title,
		StartedAt:     now,
		LastMessageAt: now,
	}, nil
}

// GetSession returns a session by id
func (s *Store) GetSession(ctx context.Context, id int64) (*models.ConversationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, started_at, last_message_at, message_count FROM sessions WHERE id=?`, id)
	var sess models.ConversationSession
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.StartedAt, &sess.LastMessageAt, &sess.MessageCount)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns an owner's sessions, most recently active first
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]models.ConversationSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, started_at, last_message_at, message_count
		 FROM sessions WHERE owner_id=? ORDER BY last_message_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ConversationSession
	for rows.Next() {
		var sess models.ConversationSession
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.StartedAt, &sess.LastMessageAt, &sess.MessageCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RenameSession updates a session's title, enforcing ownership
func (s *Store) RenameSession(ctx context.Context, ownerID string, id int64, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title=? WHERE id=? AND owner_id=?`, title, id, ownerID)
	if err != nil {
		return err
	}
	return s.checkOwned(ctx, res, id)
}

// DeleteSession removes a session and its messages, enforcing ownership
func (s *Store) DeleteSession(ctx context.Context, ownerID string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id=? AND owner_id=?`, id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return ErrNotOwner
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessage appends a message to a session and bumps its counters in
// one transaction. The session must belong to ownerID.
func (s *Store) AppendMessage(ctx context.Context, ownerID string, sessionID int64, role, content string, meta models.MessageMeta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM sessions WHERE id=?`, sessionID).Scan(&owner)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if owner != ownerID {
		return ErrNotOwner
	}

	now := time.Now().UTC()
	wasCached := 0
	if meta.WasCached {
		wasCached = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages(session_id, role, content, created_at, tokens_used, response_time_ms, was_cached)
		 VALUES(?,?,?,?,?,?,?)`,
		sessionID, role, content, now, meta.TokensUsed, meta.ResponseTimeMs, wasCached); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count=message_count+1, last_message_at=? WHERE id=?`,
		now, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMessages returns a session's messages in creation order, enforcing
// ownership
func (s *Store) ListMessages(ctx context.Context, ownerID string, sessionID int64) ([]models.ConversationMessage, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at, tokens_used, response_time_ms, was_cached
		 FROM messages WHERE session_id=? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var msg models.ConversationMessage
		var wasCached int
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt, &msg.TokensUsed, &msg.ResponseTimeMs, &wasCached); err != nil {
			return nil, err
		}
		msg.WasCached = wasCached != 0
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) checkOwned(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return ErrNotOwner
	}
	return nil
}
