package domain

import "time"

// TurnState is a step of the per-turn state machine.
type TurnState string

const (
	StateReceivedQuery   TurnState = "ReceivedQuery"
	StateEmbedded        TurnState = "Embedded"
	StateRetrieved       TurnState = "Retrieved"
	StatePromptAssembled TurnState = "PromptAssembled"
	StateGenerated       TurnState = "Generated"
	StateCompleted       TurnState = "Completed"
	StateFailed          TurnState = "Failed"
)

// Terminal reports whether no further transition is possible.
func (s TurnState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ConversationTurn is one completed exchange.
type ConversationTurn struct {
	ID        string
	Query     string
	ChunkIDs  []string // ordered by relevance
	Answer    string
	CreatedAt time.Time
}

// Attribution names a chunk that was placed in the prompt.
type Attribution struct {
	ChunkID    string
	DocumentID string
	Title      string
	Score      float64
	Preview    string
}

// TurnResult is returned for every submitted turn, successful or not.
type TurnResult struct {
	SessionID string
	TurnID    string
	State     TurnState
	Answer    string
	Sources   []Attribution
	// NoContext is set when retrieval found nothing and the prompt carried
	// the explicit no-context marker.
	NoContext bool
	Trace     []TurnState
	ErrorKind Kind
	Message   string
}

// ChunkFailure reports a chunk that could not be embedded during ingestion.
type ChunkFailure struct {
	Index   int
	ChunkID string
	Kind    Kind
	Message string
}

// IngestResult reports the outcome of ingesting one document.
type IngestResult struct {
	DocumentID string
	Title      string
	Chunks     int
	Indexed    []int
	Failed     []ChunkFailure
	// Skipped lists whitespace-only chunks that were not embedded.
	Skipped []int
	Summary string
}

// Complete reports whether every non-blank chunk of the document was indexed.
func (r IngestResult) Complete() bool {
	return len(r.Failed) == 0
}

// Role of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the prompt's conversation.
type Message struct {
	Role    Role
	Content string
}

// Prompt is the fully assembled input for a generation backend.
type Prompt struct {
	System   string
	Messages []Message
	// Context holds the chunk texts embedded in System, most relevant first.
	Context []string
}

// Query returns the content of the final user message.
func (p Prompt) Query() string {
	if n := len(p.Messages); n > 0 && p.Messages[n-1].Role == RoleUser {
		return p.Messages[n-1].Content
	}
	return ""
}

// Len returns the prompt size in characters.
func (p Prompt) Len() int {
	n := len([]rune(p.System))
	for _, m := range p.Messages {
		n += len([]rune(m.Content))
	}
	return n
}
