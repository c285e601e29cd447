// Package session implements the Session Manager and Session Worker: the
// per-session goroutine that pops inbound requests, runs the turn
// scheduler, streams each chosen persona's reply through the Runtime
// Adapter, and fans the resulting events out to subscribers.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/personaorch/internal/common/constants"
	orcherrors "github.com/kandev/personaorch/internal/common/errors"
	"github.com/kandev/personaorch/internal/common/logger"
	"github.com/kandev/personaorch/internal/common/stringutil"
	"github.com/kandev/personaorch/internal/events"
	"github.com/kandev/personaorch/internal/events/bus"
	"github.com/kandev/personaorch/internal/orchestrator/queue"
	"github.com/kandev/personaorch/internal/orchestrator/scheduler"
	"github.com/kandev/personaorch/internal/orchestrator/streaming"
	"github.com/kandev/personaorch/internal/persona"
	"github.com/kandev/personaorch/internal/rag"
	"github.com/kandev/personaorch/internal/runtime"
	"github.com/kandev/personaorch/internal/store"
	"github.com/kandev/personaorch/internal/sysprompt"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// ragPromptWindow is how many trailing history entries are folded into the
// RAG query alongside the new message.
const ragPromptWindow = 3

// Deps are the collaborators every Worker shares; owned by the Manager and
// handed to each Worker it creates.
type Deps struct {
	Store     store.Store
	Registry  persona.Registry
	Adapter   *runtime.Adapter
	Retriever *rag.Retriever
	Scheduler *scheduler.Scheduler
	Log       *logger.Logger
	// Events is optional: nil means lifecycle events simply aren't published.
	Events bus.EventBus

	MaxContinuation     int
	DefaultMemoryWindow int
	RAGTopKDefault      int
}

// Worker owns one session's inbound queue, scheduler state, and
// subscriber fan-out. Exactly one goroutine runs Run for a given Worker.
type Worker struct {
	session     v1.Session
	deps        Deps
	queue       *queue.InboundQueue
	broadcaster *streaming.Broadcaster
	log         *logger.Logger

	// stateMu guards state: Run's own goroutine mutates it via the
	// scheduler, while Status() may be read concurrently from an HTTP
	// handler goroutine for admin introspection.
	stateMu sync.Mutex
	state   *v1.SchedulerState

	// lastSpeaker is the handle of whoever spoke last in this session
	// (across requests, not just within one), fed to the turn scheduler's
	// handoff-bonus term. Empty until someone has spoken.
	lastSpeaker string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker returns a Worker for session, with a fresh SchedulerState and
// inbound queue of the given capacity.
func NewWorker(sess v1.Session, queueCapacity, maxAgentsPerTurn int, deps Deps) *Worker {
	return &Worker{
		session:     sess,
		deps:        deps,
		queue:       queue.New(queueCapacity),
		broadcaster: streaming.NewBroadcaster(deps.Log),
		state:       v1.NewSchedulerState(maxAgentsPerTurn),
		log: deps.Log.WithFields(
			zap.String("component", "session_worker"),
			zap.String("session_id", sess.ID),
		),
		done: make(chan struct{}),
	}
}

// Submit enqueues req, subject to the inbound queue's put timeout.
func (w *Worker) Submit(ctx context.Context, req v1.InboundRequest) error {
	ctx, cancel := context.WithTimeout(ctx, constants.InboundQueuePutTimeout)
	defer cancel()
	return w.queue.Put(ctx, req)
}

// Subscribe attaches a new subscriber mailbox under id.
func (w *Worker) Subscribe(id string) *streaming.Subscriber {
	return w.broadcaster.Subscribe(id)
}

// Unsubscribe detaches the mailbox registered under id.
func (w *Worker) Unsubscribe(id string) {
	w.broadcaster.Unsubscribe(id)
}

// QueueStatus is an admin-introspection snapshot of one worker's inbound
// queue and fan-out, taken without pausing the run loop.
type QueueStatus struct {
	SessionID        string `json:"session_id"`
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	SubscriberCount  int    `json:"subscriber_count"`
	TurnCounter      int    `json:"turn_counter"`
	SilenceCounter   int    `json:"silence_counter"`
}

// Status reports the worker's current queue depth and scheduler state.
func (w *Worker) Status() QueueStatus {
	w.stateMu.Lock()
	turnCounter, silenceCounter := w.state.TurnCounter, w.state.SilenceCounter
	w.stateMu.Unlock()

	return QueueStatus{
		SessionID:       w.session.ID,
		QueueDepth:      w.queue.Len(),
		QueueCapacity:   w.queue.Cap(),
		SubscriberCount: w.broadcaster.Count(),
		TurnCounter:     turnCounter,
		SilenceCounter:  silenceCounter,
	}
}

// Stop cancels the worker's run loop and closes its inbound queue; Run
// returns once any in-flight generation observes the cancellation.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.queue.Close()
}

// Done returns a channel closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run is the worker's main loop: pop, schedule, generate, persist, repeat.
// It returns when ctx is cancelled or the queue is closed with nothing
// left buffered.
func (w *Worker) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	defer cancel()
	defer close(w.done)
	defer w.broadcaster.CloseAll()

	for {
		req, ok := w.queue.Pop(ctx)
		if !ok {
			return
		}
		w.handleRequest(ctx, req)
	}
}

// handleRequest runs one InboundRequest through the scheduler, possibly
// across several continuation steps, per the main-loop algorithm.
func (w *Worker) handleRequest(ctx context.Context, req v1.InboundRequest) {
	w.log.Debug("handling inbound request",
		zap.String("session_id", w.session.ID),
		zap.String("sender", req.Sender),
		zap.String("content", stringutil.TruncateStringWithEllipsis(req.Content, 200)),
	)

	personas, err := w.deps.Registry.ListPersonas(ctx, w.session.TenantID)
	if err != nil {
		w.log.Error("failed to list personas", zap.Error(err))
		return
	}
	history := req.HistorySnapshot
	contextTags := mergeTags(append([]string{}, req.TargetMentions...), parseMentions(req.Content))
	isUserMessage := true

	for step := 0; step <= w.deps.MaxContinuation; step++ {
		if ctx.Err() != nil {
			return
		}

		w.stateMu.Lock()
		speakers := w.deps.Scheduler.Decide(w.state, personas, scheduler.Step{
			ContextTags:   contextTags,
			LastSpeaker:   w.lastSpeaker,
			IsUserMessage: isUserMessage,
		})
		w.stateMu.Unlock()
		if len(speakers) == 0 {
			return
		}

		var nextMentions []string
		for _, speaker := range speakers {
			if ctx.Err() != nil {
				return
			}
			finalText := w.generateTurn(ctx, speaker, history, req, isUserMessage)
			history = append(history, v1.Message{
				SessionID: w.session.ID,
				Sender:    speaker.Handle,
				Content:   finalText,
				CreatedAt: time.Now(),
			})
			w.lastSpeaker = speaker.Handle
			nextMentions = append(nextMentions, parseMentions(finalText)...)
		}

		merged := mergeTags(nil, nextMentions)
		if len(merged) == 0 {
			return
		}
		contextTags = merged
		isUserMessage = false
	}
}

// generateTurn publishes agent.start/chunk*/end for one persona's reply,
// assembling its prompt from history plus any retrieved RAG context, and
// persists the finished message. It returns the finished text so the
// caller can fold it into the running history and re-scan for mentions.
func (w *Worker) generateTurn(ctx context.Context, speaker v1.PersonaRef, history []v1.Message, req v1.InboundRequest, isUserMessage bool) string {
	messageID := fmt.Sprintf("%s_%s", safeHandle(speaker.Handle), uuid.New().String()[:8])

	w.broadcaster.Publish(v1.StreamEvent{
		Event:     v1.StreamEventStart,
		MessageID: messageID,
		Sender:    speaker.Handle,
		SessionID: w.session.ID,
		Timestamp: time.Now(),
	})

	w.publishEvent(ctx, events.AgentTurnStarted, map[string]interface{}{
		"session_id": w.session.ID,
		"persona":    speaker.Handle,
		"message_id": messageID,
	})

	window := speaker.EffectiveMemoryWindow(w.deps.DefaultMemoryWindow)
	trimmed := sysprompt.TrimHistory(history, window)

	bundle := sysprompt.Bundle{
		Persona:        speaker,
		History:        trimmed,
		LatestUserText: req.Content,
		IsContinuation: !isUserMessage,
	}
	bundle.RAGChunks = w.retrieveKnowledge(ctx, speaker, history, req)

	messages := sysprompt.Assemble(bundle)

	var buffer strings.Builder
	streamErr := w.stream(ctx, speaker.Handle, messages, messageID, &buffer)
	if ctx.Err() != nil {
		// Cancelled mid-generation: the partial text is not persisted.
		return buffer.String()
	}

	finalText := buffer.String()
	persisted, persistErr := w.deps.Store.AppendMessage(ctx, w.session.ID, v1.Message{
		SessionID: w.session.ID,
		Sender:    speaker.Handle,
		Content:   finalText,
	})
	if persistErr != nil {
		w.log.Error("failed to persist agent message", zap.Error(persistErr), zap.String("persona", speaker.Handle))
	} else {
		w.publishEvent(ctx, events.MessagePersisted, map[string]interface{}{
			"session_id": w.session.ID,
			"sender":     speaker.Handle,
			"message_id": persisted.ID,
		})
	}

	turnEvent := events.AgentTurnCompleted
	if streamErr != nil {
		turnEvent = events.AgentTurnFailed
	}
	w.publishEvent(ctx, turnEvent, map[string]interface{}{
		"session_id": w.session.ID,
		"persona":    speaker.Handle,
		"message_id": messageID,
	})

	end := v1.StreamEvent{
		Event:     v1.StreamEventEnd,
		MessageID: messageID,
		Sender:    speaker.Handle,
		Content:   finalText,
		Timestamp: time.Now(),
	}
	if persistErr == nil {
		end.PersistedMessageID = persisted.ID
	}
	if streamErr != nil {
		end.Error = streamErr.Error()
	}
	w.broadcaster.Publish(end)

	return finalText
}

// stream drives the Runtime Adapter for one persona turn, publishing an
// agent.chunk event per token. A provider error after retries still
// returns whatever text was buffered so far; the caller persists it and
// flags the error on agent.end rather than failing the whole step.
func (w *Worker) stream(ctx context.Context, handle string, messages []runtime.Message, messageID string, buffer *strings.Builder) error {
	chunks, err := w.deps.Adapter.Stream(ctx, w.session.TenantID, handle, messages)
	if err != nil {
		w.log.Warn("provider stream failed to start", zap.Error(err), zap.String("persona", handle))
		return err
	}

	for chunk := range chunks {
		if chunk.Content != "" {
			buffer.WriteString(chunk.Content)
			w.broadcaster.Publish(v1.StreamEvent{
				Event:     v1.StreamEventChunk,
				MessageID: messageID,
				Sender:    handle,
				Content:   chunk.Content,
			})
		}
		if chunk.Done {
			if chunk.Err != nil {
				w.log.Warn("provider stream ended abnormally", zap.Error(chunk.Err), zap.String("persona", handle))
			}
			return chunk.Err
		}
	}
	return nil
}

// retrieveKnowledge forms a query from the new message and the last few
// history entries and searches the persona's knowledge collection.
// Retrieval failure is never fatal: it logs and returns nil so generation
// proceeds without a RAG section.
func (w *Worker) retrieveKnowledge(ctx context.Context, speaker v1.PersonaRef, history []v1.Message, req v1.InboundRequest) []v1.KnowledgeDoc {
	if !speaker.HasKnowledge || w.deps.Retriever == nil {
		return nil
	}

	var q strings.Builder
	q.WriteString(req.Content)
	start := len(history) - ragPromptWindow
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		q.WriteString(" ")
		q.WriteString(m.Content)
	}

	topK := speaker.RAGTopK
	if topK <= 0 {
		topK = w.deps.RAGTopKDefault
	}

	docs, err := w.deps.Retriever.Search(ctx, w.session.TenantID, speaker.Handle, q.String(), topK)
	if err != nil {
		if !orcherrors.IsNotFound(err) {
			w.log.Warn("rag search failed, proceeding without context",
				zap.String("persona", speaker.Handle), zap.Error(err))
		}
		return nil
	}
	return docs
}

// publishEvent emits eventType onto the optional event bus. A nil bus or a
// publish failure is never fatal to generation: it is logged and swallowed.
func (w *Worker) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if w.deps.Events == nil {
		return
	}
	subject := events.BuildSessionSubject(w.session.ID)
	if err := w.deps.Events.Publish(ctx, subject, bus.NewEvent(eventType, "session-worker", data)); err != nil {
		w.log.Warn("failed to publish lifecycle event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// safeHandle normalises a sender/persona handle into a filesystem- and
// URL-safe identifier for use in message ids.
func safeHandle(handle string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(handle) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "persona"
	}
	return b.String()
}
