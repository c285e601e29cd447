// Package store persists sessions and their messages. Implementations must
// satisfy the concurrency guarantees a Session Worker depends on: appends
// for one session are serialized by the worker itself, so the store only
// needs to guarantee that a completed append is visible to the very next
// read.
package store

import (
	"context"

	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// Store is the persisted-state collaborator a Session Manager and Session
// Worker use to create sessions, append messages, and replay history.
type Store interface {
	// CreateSession persists a new session owned by (tenantID, userID) and
	// returns it with its generated ID and CreatedAt.
	CreateSession(ctx context.Context, tenantID, userID, title string) (v1.Session, error)

	// GetSession returns the session with id, or a NotFound AppError.
	GetSession(ctx context.Context, id string) (v1.Session, error)

	// ListSessions returns every session owned by (tenantID, userID),
	// newest first.
	ListSessions(ctx context.Context, tenantID, userID string) ([]v1.Session, error)

	// AppendMessage persists msg under sessionID and returns it with its
	// generated ID and CreatedAt.
	AppendMessage(ctx context.Context, sessionID string, msg v1.Message) (v1.Message, error)

	// ListMessages returns the most recent limit messages for sessionID in
	// chronological order. limit<=0 means "no limit".
	ListMessages(ctx context.Context, sessionID string, limit int) ([]v1.Message, error)

	// Close releases any underlying connections.
	Close() error
}
