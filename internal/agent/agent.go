package agent

import (
	"errors"

	"github.com/skypro1111/avatar-agent/internal/metrics"
)

// Agent is the conversational persona a session runs
type Agent struct {
	instructions string
}

// NewAgent creates an agent with a fixed instruction string
func NewAgent(instructions string) *Agent {
	return &Agent{instructions: instructions}
}

// Instructions returns the agent's system instructions
func (a *Agent) Instructions() string { return a.instructions }

// Event names accepted by Session.On
const (
	EventMetricsCollected      = "metrics_collected"
	EventAgentStateChanged     = "agent_state_changed"
	EventUserInputTranscribed  = "user_input_transcribed"
	EventConversationItemAdded = "conversation_item_added"
	EventError                 = "error"
	EventClose                 = "close"
)

// State is the agent's conversational state
type State string

const (
	StateInitializing State = "initializing"
	StateListening    State = "listening"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
)

// Role identifies who produced a conversation item
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationItem is one finished message in the conversation history
type ConversationItem struct {
	Role        Role
	Text        string
	Interrupted bool
}

// Event is delivered to handlers registered with Session.On. Only the fields
// relevant to Name are set.
type Event struct {
	Name string

	Metrics metrics.AgentMetrics

	OldState State
	NewState State

	Transcript string
	IsFinal    bool

	Item ConversationItem

	Err error
}

// Handler receives session events
type Handler func(Event)

var (
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("agent session already started")
	// ErrSessionClosed is returned by Start after Close
	ErrSessionClosed = errors.New("agent session closed")
	// ErrNoAgent is returned when StartOptions carries no agent
	ErrNoAgent = errors.New("agent is required")
	// ErrNoModel is returned when the session has no realtime model
	ErrNoModel = errors.New("realtime model is required")
)
