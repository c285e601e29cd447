package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/personaorch/internal/common/errors"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// MemoryStore is an in-process Store backed by plain maps, guarded by a
// single mutex. It exists for tests and for local/dev runs with no
// database configured; it has no durability across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]v1.Session
	messages map[string][]v1.Message
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]v1.Session),
		messages: make(map[string][]v1.Message),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, tenantID, userID, title string) (v1.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := v1.Session{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     title,
		CreatedAt: m.now().UTC(),
	}
	m.sessions[session.ID] = session
	return session, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (v1.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return v1.Session{}, errors.NotFound("session", id)
	}
	return session, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, tenantID, userID string) ([]v1.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []v1.Session
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg v1.Message) (v1.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return v1.Message{}, errors.NotFound("session", sessionID)
	}

	msg.ID = uuid.NewString()
	msg.SessionID = sessionID
	msg.CreatedAt = m.now().UTC()
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, limit int) ([]v1.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]v1.Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]v1.Message, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
