// Package streaming fans a session's StreamEvents out to every subscriber
// currently attached to that session (typically one WebSocket connection
// per browser tab).
package streaming

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/personaorch/internal/common/constants"
	"github.com/kandev/personaorch/internal/common/logger"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// subscriberCapacity bounds how many unread events a slow subscriber may
// accumulate before it is dropped rather than allowed to stall the worker.
const subscriberCapacity = 64

// Subscriber is a bounded mailbox of StreamEvents. A Session Worker writes
// to it via Broadcaster.Publish; the WS handler reads from Events() and
// forwards frames to the socket.
type Subscriber struct {
	id     string
	events chan v1.StreamEvent
}

// Events returns the channel to range over until it closes.
func (s *Subscriber) Events() <-chan v1.StreamEvent {
	return s.events
}

// Broadcaster fans out one session's StreamEvents to its subscribers. It
// holds no reference to the session's content; the Session Worker is the
// only writer.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	log         *logger.Logger
}

// NewBroadcaster returns a Broadcaster with no subscribers attached.
func NewBroadcaster(log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		log:         log.WithFields(zap.String("component", "broadcaster")),
	}
}

// Subscribe attaches a new bounded mailbox under id, replacing any prior
// subscriber registered under the same id.
func (b *Broadcaster) Subscribe(id string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subscribers[id]; ok {
		close(existing.events)
	}
	sub := &Subscriber{id: id, events: make(chan v1.StreamEvent, subscriberCapacity)}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe detaches and closes the mailbox registered under id, if any.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.events)
	}
}

// Publish fans evt out to every subscriber. A subscriber whose mailbox
// doesn't drain within the slow-consumer window is dropped rather than
// allowed to stall the worker: per the fan-out policy, a slow consumer
// loses its connection, it never slows down message generation.
func (b *Broadcaster) Publish(evt v1.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		select {
		case sub.events <- evt:
		case <-time.After(constants.SubscriberSendTimeout):
			b.log.Warn("dropping slow subscriber", zap.String("subscriber_id", id))
			delete(b.subscribers, id)
			close(sub.events)
		}
	}
}

// Count reports the number of attached subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// CloseAll detaches and closes every subscriber's mailbox, used when a
// session is torn down.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.events)
	}
}
