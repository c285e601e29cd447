package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/personaorch/internal/common/logger"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(logger.Default())
	a := b.Subscribe("a")
	c := b.Subscribe("b")

	b.Publish(v1.StreamEvent{Event: v1.StreamEventChunk, Content: "hi"})

	select {
	case evt := <-a.Events():
		assert.Equal(t, "hi", evt.Content)
	case <-time.After(time.Second):
		t.Fatal("subscriber a never received event")
	}
	select {
	case evt := <-c.Events():
		assert.Equal(t, "hi", evt.Content)
	case <-time.After(time.Second):
		t.Fatal("subscriber b never received event")
	}
}

func TestPublish_DropsSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(logger.Default())
	slow := b.Subscribe("slow")

	for i := 0; i < subscriberCapacity; i++ {
		b.Publish(v1.StreamEvent{Event: v1.StreamEventChunk, Content: "fill"})
	}
	require.Equal(t, 1, b.Count())

	// One more publish should block past the slow-consumer timeout and drop it.
	b.Publish(v1.StreamEvent{Event: v1.StreamEventChunk, Content: "overflow"})

	assert.Equal(t, 0, b.Count())
	for i := 0; i < subscriberCapacity; i++ {
		<-slow.Events()
	}
	_, open := <-slow.Events()
	assert.False(t, open, "dropped subscriber's channel must be closed")
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := NewBroadcaster(logger.Default())
	sub := b.Subscribe("a")
	b.Unsubscribe("a")

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, b.Count())
}
