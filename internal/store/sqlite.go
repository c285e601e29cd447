package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	orcherrors "github.com/kandev/personaorch/internal/common/errors"
	"github.com/kandev/personaorch/internal/db"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// SQLiteStore is a Store backed by a single SQLite file, using a
// single-connection writer pool and a multi-connection WAL reader pool.
type SQLiteStore struct {
	pool   *db.Pool
	ownsDB bool
}

// OpenSQLite opens (creating if necessary) a SQLite database at path and
// returns a ready-to-use SQLiteStore.
func OpenSQLite(path string) (*SQLiteStore, error) {
	writer, err := db.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	reader, err := db.OpenSQLiteReader(path)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}

	pool := db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"))
	store := &SQLiteStore{pool: pool, ownsDB: true}
	if err := store.initSchema(); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// NewWithPool wraps an already-open Pool (used for Postgres, or for tests
// sharing a connection). The caller retains ownership of pool.
func NewWithPool(pool *db.Pool) (*SQLiteStore, error) {
	store := &SQLiteStore{pool: pool, ownsDB: false}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.pool.Writer().Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	if _, err := s.pool.Writer().Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_tenant_user ON sessions(tenant_id, user_id)
	`); err != nil {
		return err
	}

	if _, err := s.pool.Writer().Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err = s.pool.Writer().Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)
	`)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, tenantID, userID, title string) (v1.Session, error) {
	session := v1.Session{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		Title:    title,
	}
	row := s.pool.Writer().QueryRowContext(ctx,
		s.pool.Writer().Rebind(`INSERT INTO sessions (id, tenant_id, user_id, title, created_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP) RETURNING created_at`),
		session.ID, session.TenantID, session.UserID, session.Title,
	)
	if err := row.Scan(&session.CreatedAt); err != nil {
		return v1.Session{}, orcherrors.Internal("create session", err)
	}
	return session, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (v1.Session, error) {
	var session v1.Session
	query := s.pool.Reader().Rebind(`SELECT id, tenant_id, user_id, title, created_at FROM sessions WHERE id = ?`)
	err := s.pool.Reader().GetContext(ctx, &session, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return v1.Session{}, orcherrors.NotFound("session", id)
	}
	if err != nil {
		return v1.Session{}, orcherrors.Internal("get session", err)
	}
	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, tenantID, userID string) ([]v1.Session, error) {
	var sessions []v1.Session
	query := s.pool.Reader().Rebind(`
		SELECT id, tenant_id, user_id, title, created_at FROM sessions
		WHERE tenant_id = ? AND user_id = ? ORDER BY created_at DESC
	`)
	if err := s.pool.Reader().SelectContext(ctx, &sessions, query, tenantID, userID); err != nil {
		return nil, orcherrors.Internal("list sessions", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg v1.Message) (v1.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return v1.Message{}, err
	}

	msg.ID = uuid.NewString()
	msg.SessionID = sessionID
	row := s.pool.Writer().QueryRowContext(ctx,
		s.pool.Writer().Rebind(`INSERT INTO messages (id, session_id, sender, content, created_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP) RETURNING created_at`),
		msg.ID, msg.SessionID, msg.Sender, msg.Content,
	)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return v1.Message{}, orcherrors.Internal("append message", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]v1.Message, error) {
	var messages []v1.Message
	query := `SELECT id, session_id, sender, content, created_at FROM messages
		WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, session_id, sender, content, created_at FROM messages
			WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`
		args = append(args, limit)
	}
	if err := s.pool.Reader().SelectContext(ctx, &messages, s.pool.Reader().Rebind(query), args...); err != nil {
		return nil, orcherrors.Internal("list messages", err)
	}
	return messages, nil
}

func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.pool.Close()
}
