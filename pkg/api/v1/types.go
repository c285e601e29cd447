// Package v1 defines the core conversation-orchestrator entities shared
// across the store, worker, scheduler, and HTTP/WS transport layers.
package v1

import "time"

// Session is a persistent conversation context owned by one (tenant, user).
type Session struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Title        string    `json:"title,omitempty" db:"title"`
	Participants []string  `json:"participants,omitempty" db:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// MessageSender identifies who authored a Message: either the literal
// string "user" or a persona handle.
const MessageSenderUser = "user"

// Message is one append-only entry in a session's transcript.
type Message struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Sender    string    `json:"sender" db:"sender"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PersonaRef is a read-only snapshot of a persona, supplied by the persona
// registry collaborator. The orchestrator never mutates these.
type PersonaRef struct {
	Handle         string  `json:"handle"`
	DisplayName    string  `json:"display_name"`
	Proactivity    float64 `json:"proactivity"`
	MemoryWindow   int     `json:"memory_window"`
	BasePrompt     string  `json:"base_prompt,omitempty"`
	Tone           string  `json:"tone,omitempty"`
	Catchphrases   []string `json:"catchphrases,omitempty"`
	HasKnowledge   bool    `json:"has_knowledge,omitempty"`
	RAGTopK        int     `json:"rag_top_k,omitempty"`
	BackgroundRef  string  `json:"background_ref,omitempty"`
}

// ClampedProactivity returns Proactivity clamped to [0, 1].
func (p PersonaRef) ClampedProactivity() float64 {
	switch {
	case p.Proactivity < 0:
		return 0
	case p.Proactivity > 1:
		return 1
	default:
		return p.Proactivity
	}
}

// EffectiveMemoryWindow normalises MemoryWindow per spec: >0 is used as-is,
// -1 means unbounded history, 0 (forbidden) falls back to defaultWindow.
func (p PersonaRef) EffectiveMemoryWindow(defaultWindow int) int {
	if p.MemoryWindow == 0 {
		return defaultWindow
	}
	return p.MemoryWindow
}

// PersonaProfile is the resolved runtime configuration for invoking a
// persona's LLM, returned by the persona registry's resolve_profile.
type PersonaProfile struct {
	BaseURL          string  `json:"base_url"`
	Model            string  `json:"model"`
	APIKey           string  `json:"api_key"`
	Temperature      float64 `json:"temperature"`
	IsEmbeddingModel bool    `json:"is_embedding_model"`
	EmbeddingDim     int     `json:"embedding_dim,omitempty"`
}

// PersonaTurnState tracks one persona's scheduling history within a session.
type PersonaTurnState struct {
	LastTurn         int
	ConsecutiveSpeaks int
}

// SchedulerState is the per-session, in-memory state consumed by the turn
// scheduler. Not persisted: a worker restart starts fresh.
type SchedulerState struct {
	Personas          map[string]*PersonaTurnState
	TurnCounter       int
	SilenceCounter    int
	MaxAgentsPerTurn  int
	SilenceThreshold  int
}

// NewSchedulerState returns a zeroed SchedulerState ready for the first step.
func NewSchedulerState(maxAgentsPerTurn int) *SchedulerState {
	return &SchedulerState{
		Personas:         make(map[string]*PersonaTurnState),
		MaxAgentsPerTurn: maxAgentsPerTurn,
		SilenceThreshold: 2,
	}
}

// StateFor returns (creating if absent) the turn state for a handle.
func (s *SchedulerState) StateFor(handle string) *PersonaTurnState {
	st, ok := s.Personas[handle]
	if !ok {
		st = &PersonaTurnState{LastTurn: -1}
		s.Personas[handle] = st
	}
	return st
}

// InboundRequest is one unit of work handed from the Session Manager to a
// Session Worker's inbound queue.
type InboundRequest struct {
	SessionID       string
	Content         string
	Sender          string
	TargetMentions  []string
	HistorySnapshot []Message
}

// StreamEventKind enumerates the three events a worker ever publishes for a
// given message_id.
type StreamEventKind string

const (
	StreamEventStart StreamEventKind = "agent.start"
	StreamEventChunk StreamEventKind = "agent.chunk"
	StreamEventEnd   StreamEventKind = "agent.end"
)

// StreamEvent is one frame published by a worker and fanned out to
// subscribers. Field population depends on Event: Start carries SessionID
// and Timestamp, Chunk carries Content only, End carries the final Content,
// Timestamp, and PersistedMessageID.
type StreamEvent struct {
	Event             StreamEventKind `json:"event"`
	MessageID         string          `json:"message_id"`
	Sender            string          `json:"sender"`
	SessionID         string          `json:"session_id,omitempty"`
	Content           string          `json:"content,omitempty"`
	Timestamp         time.Time       `json:"timestamp,omitempty"`
	PersistedMessageID string         `json:"persisted_message_id,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// KnowledgeDoc is one retrieved chunk returned by the RAG retriever's search.
type KnowledgeDoc struct {
	ID          string                 `json:"id"`
	PageContent string                 `json:"page_content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Score       float64                `json:"score"`
}
