package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orcherrors "github.com/kandev/personaorch/internal/common/errors"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

func TestPutPop_RoundTripFIFO(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, v1.InboundRequest{SessionID: "s1", Content: "first"}))
	require.NoError(t, q.Put(ctx, v1.InboundRequest{SessionID: "s1", Content: "second"}))

	first, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "first", first.Content)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "second", second.Content)
}

func TestPut_OverloadedWhenFullAndDeadlineExpires(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, v1.InboundRequest{SessionID: "s1"}))

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(timeoutCtx, v1.InboundRequest{SessionID: "s1"})
	require.Error(t, err)
	assert.True(t, orcherrors.IsOverloaded(err))
}

func TestPut_SucceedsOnceSpaceFreesBeforeDeadline(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, v1.InboundRequest{SessionID: "s1", Content: "first"}))

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Pop(ctx)
	}()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := q.Put(timeoutCtx, v1.InboundRequest{SessionID: "s1", Content: "second"})
	assert.NoError(t, err)
}

func TestPop_UnblocksOnClose(t *testing.T) {
	q := New(1)
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop(context.Background())
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestLenAndCap(t *testing.T) {
	q := New(3)
	assert.Equal(t, 3, q.Cap())
	assert.Equal(t, 0, q.Len())

	require.NoError(t, q.Put(context.Background(), v1.InboundRequest{SessionID: "s1"}))
	assert.Equal(t, 1, q.Len())
}
