package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	orcherrors "github.com/kandev/personaorch/internal/common/errors"
	"github.com/kandev/personaorch/internal/common/logger"
	"github.com/kandev/personaorch/internal/events"
	"github.com/kandev/personaorch/internal/events/bus"
	"github.com/kandev/personaorch/internal/orchestrator/streaming"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// Config tunes the workers a Manager creates.
type Config struct {
	InboundQueueCapacity int
	MaxAgentsPerTurn     int
	MaxContinuation      int
	DefaultMemoryWindow  int
	RAGTopKDefault       int
}

// Manager owns the live-worker map for every session with in-flight
// activity. It is the single lock-protected coordinator on the worker
// map's create/evict path; it is not itself in the per-message data path.
type Manager struct {
	deps   Deps
	config Config
	log    *logger.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewManager returns a Manager backed by deps, applying cfg to every
// worker it creates.
func NewManager(deps Deps, cfg Config) *Manager {
	return &Manager{
		deps:    deps,
		config:  cfg,
		log:     deps.Log.WithFields(zap.String("component", "session_manager")),
		workers: make(map[string]*Worker),
	}
}

// CreateSession allocates a persistent session row. No worker is started
// until the first Enqueue call for this session.
func (m *Manager) CreateSession(ctx context.Context, tenantID, userID, title string) (v1.Session, error) {
	sess, err := m.deps.Store.CreateSession(ctx, tenantID, userID, title)
	if err != nil {
		return sess, err
	}
	m.publishEvent(ctx, sess.ID, events.SessionCreated, map[string]interface{}{
		"session_id": sess.ID,
		"tenant_id":  tenantID,
		"user_id":    userID,
	})
	return sess, nil
}

// ListSessions returns every session owned by (tenantID, userID).
func (m *Manager) ListSessions(ctx context.Context, tenantID, userID string) ([]v1.Session, error) {
	return m.deps.Store.ListSessions(ctx, tenantID, userID)
}

// ListMessages returns the most recent limit messages for sessionID.
func (m *Manager) ListMessages(ctx context.Context, sessionID string, limit int) ([]v1.Message, error) {
	if _, err := m.deps.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.deps.Store.ListMessages(ctx, sessionID, limit)
}

// Enqueue loads sessionID (failing NotFound if absent), persists the user
// message, computes the history snapshot, and hands the worker an
// InboundRequest. It returns once the request is queued, without waiting
// for generation.
func (m *Manager) Enqueue(ctx context.Context, sessionID, content, sender string, targetMentions []string) error {
	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	persisted, err := m.deps.Store.AppendMessage(ctx, sessionID, v1.Message{
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
	})
	if err != nil {
		return err
	}
	m.publishEvent(ctx, sessionID, events.MessagePersisted, map[string]interface{}{
		"session_id": sessionID,
		"sender":     sender,
		"message_id": persisted.ID,
	})

	history, err := m.deps.Store.ListMessages(ctx, sessionID, m.historyWindow(ctx, sess.TenantID))
	if err != nil {
		return err
	}

	worker := m.workerFor(sess)
	return worker.Submit(ctx, v1.InboundRequest{
		SessionID:       sessionID,
		Content:         content,
		Sender:          sender,
		TargetMentions:  targetMentions,
		HistorySnapshot: history,
	})
}

// publishEvent emits eventType onto the optional event bus, scoped to
// sessionID's subject. A nil bus or publish failure is logged and
// swallowed: event delivery never blocks or fails a manager operation.
func (m *Manager) publishEvent(ctx context.Context, sessionID, eventType string, data map[string]interface{}) {
	if m.deps.Events == nil {
		return
	}
	subject := events.BuildSessionSubject(sessionID)
	if err := m.deps.Events.Publish(ctx, subject, bus.NewEvent(eventType, "session-manager", data)); err != nil {
		m.log.Warn("failed to publish lifecycle event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// historyWindow picks a snapshot size generous enough to cover every
// persona's effective memory window for tenant; unbounded personas fall
// back to "no limit" (0, meaning the store returns full history).
func (m *Manager) historyWindow(ctx context.Context, tenantID string) int {
	personas, err := m.deps.Registry.ListPersonas(ctx, tenantID)
	if err != nil {
		return m.config.DefaultMemoryWindow
	}
	widest := m.config.DefaultMemoryWindow
	for _, p := range personas {
		w := p.EffectiveMemoryWindow(m.config.DefaultMemoryWindow)
		if w < 0 {
			return 0
		}
		if w > widest {
			widest = w
		}
	}
	return widest
}

// Subscribe returns a live subscriber for sessionID's worker, or NotFound
// if no worker is running for that session (nothing has been enqueued
// yet, or it was evicted).
func (m *Manager) Subscribe(ctx context.Context, sessionID, subscriberID string) (*streaming.Subscriber, error) {
	if _, err := m.deps.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	worker, ok := m.workers[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, orcherrors.NotFound("session worker", sessionID)
	}
	return worker.Subscribe(subscriberID), nil
}

// QueueStatus reports sessionID's live worker queue depth and scheduler
// state, or NotFound if no worker is currently running for it (nothing
// enqueued yet, or its run loop has exited).
func (m *Manager) QueueStatus(sessionID string) (QueueStatus, error) {
	m.mu.Lock()
	worker, ok := m.workers[sessionID]
	m.mu.Unlock()
	if !ok {
		return QueueStatus{}, orcherrors.NotFound("session worker", sessionID)
	}
	return worker.Status(), nil
}

// Unsubscribe detaches subscriberID from sessionID's worker, if running.
func (m *Manager) Unsubscribe(sessionID, subscriberID string) {
	m.mu.Lock()
	worker, ok := m.workers[sessionID]
	m.mu.Unlock()
	if ok {
		worker.Unsubscribe(subscriberID)
	}
}

// workerFor returns the running worker for sess, starting one if this is
// the session's first enqueue (or its prior worker was evicted).
func (m *Manager) workerFor(sess v1.Session) *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[sess.ID]; ok {
		return w
	}

	w := NewWorker(sess, m.config.InboundQueueCapacity, m.config.MaxAgentsPerTurn, m.deps)
	m.workers[sess.ID] = w
	go func() {
		w.Run(context.Background())
		m.evict(sess.ID, w)
	}()
	return w
}

// evict removes w from the worker map if it is still the current worker
// for sessionID (a fresh worker may have already replaced it).
func (m *Manager) evict(sessionID string, w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.workers[sessionID]; ok && current == w {
		delete(m.workers, sessionID)
	}
}

// Shutdown stops every live worker; in-flight generations are cancelled
// and their partial output is discarded.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		<-w.Done()
	}
	m.log.Info("session manager shut down", zap.Int("workers_stopped", len(workers)))
}
