package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orcherrors "github.com/kandev/personaorch/internal/common/errors"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

func TestMemoryStore_CreateAndGetSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "acme", "u1", "kickoff")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestMemoryStore_GetSession_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetSession(context.Background(), "missing")
	assert.True(t, orcherrors.IsNotFound(err))
}

func TestMemoryStore_ListSessions_ScopedToTenantAndUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.CreateSession(ctx, "acme", "u1", "a")
	_, _ = s.CreateSession(ctx, "acme", "u2", "b")
	_, _ = s.CreateSession(ctx, "other", "u1", "c")

	sessions, err := s.ListSessions(ctx, "acme", "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].Title)
}

func TestMemoryStore_AppendAndListMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	session, _ := s.CreateSession(ctx, "acme", "u1", "")

	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, session.ID, v1.Message{Sender: v1.MessageSenderUser, Content: "msg"})
		require.NoError(t, err)
	}

	all, err := s.ListMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	limited, err := s.ListMessages(ctx, session.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStore_AppendMessage_UnknownSession(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.AppendMessage(context.Background(), "missing", v1.Message{})
	assert.True(t, orcherrors.IsNotFound(err))
}
