package event

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-nexus/nexus/pkg/types"
)

// Category is the closed set of event categories. Adding a category means
// updating Categories and every exhaustive switch over the set.
type Category string

const (
	CategoryConnection  Category = "connection"
	CategorySession     Category = "session"
	CategoryMessage     Category = "message"
	CategoryStream      Category = "stream"
	CategoryApplication Category = "application"
	CategoryError       Category = "error"
)

// Categories returns the full category set.
func Categories() []Category {
	return []Category{
		CategoryConnection,
		CategorySession,
		CategoryMessage,
		CategoryStream,
		CategoryApplication,
		CategoryError,
	}
}

// Event is a single application event. Immutable once constructed; values
// are copied to every subscriber.
type Event struct {
	ID        string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Data      any       `json:"data"`
}

// New builds an event with a fresh ULID and the current time.
func New(category Category, data any) Event {
	return Event{
		ID:        NewID(),
		Timestamp: time.Now().UTC(),
		Category:  category,
		Data:      data,
	}
}

// NewID returns a fresh ULID usable as an event or stream identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Connection events.

// ConnectionConnectingData is emitted when a connection attempt begins.
type ConnectionConnectingData struct {
	ServerURL string `json:"server_url"`
}

// ConnectionConnectedData is emitted when the gateway commits a connection.
type ConnectionConnectedData struct {
	ServerURL string `json:"server_url"`
	Version   string `json:"version,omitempty"`
}

// ConnectionDisconnectedData is emitted when the gateway disconnects.
type ConnectionDisconnectedData struct {
	Reason string `json:"reason,omitempty"`
}

// ConnectionErrorData is emitted on connection failures, including failed
// health checks.
type ConnectionErrorData struct {
	Error     string `json:"error"`
	ServerURL string `json:"server_url,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ConnectionHealthData is emitted on every successful health check.
type ConnectionHealthData struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

// Session events.

// SessionCreatedData is emitted when a chat session is created.
type SessionCreatedData struct {
	Session types.ChatSession `json:"session"`
}

// SessionUpdatedData is emitted when a chat session changes.
type SessionUpdatedData struct {
	Session types.ChatSession `json:"session"`
}

// SessionDeletedData is emitted when a chat session is removed.
type SessionDeletedData struct {
	SessionID string `json:"session_id"`
}

// SessionSelectedData is emitted when the active session changes.
type SessionSelectedData struct {
	SessionID string `json:"session_id"`
}

// Message events.

// MessageSentData is emitted when a user message is posted to the server.
type MessageSentData struct {
	SessionID string            `json:"session_id"`
	Message   types.ChatMessage `json:"message"`
}

// MessageReceivedData is emitted for every complete message observed on the
// event stream.
type MessageReceivedData struct {
	SessionID string            `json:"session_id"`
	Message   types.ChatMessage `json:"message"`
}

// Stream events.

// MessageChunkData is emitted for every incremental content delta observed
// on the event stream.
type MessageChunkData struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Chunk     string `json:"chunk"`
}

// StreamStartedData is emitted when the event stream loop connects.
type StreamStartedData struct {
	StreamID string `json:"stream_id"`
}

// StreamStoppedData is emitted when streaming is explicitly stopped.
type StreamStoppedData struct {
	StreamID string `json:"stream_id"`
}

// StreamCompletedData is emitted when an accumulating message finishes.
type StreamCompletedData struct {
	SessionID    string `json:"session_id"`
	MessageID    string `json:"message_id"`
	FinalContent string `json:"final_content"`
}

// Application events.

// ProcessStartedData is emitted when the supervised server process starts.
type ProcessStartedData struct {
	PID  int    `json:"pid"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ProcessStoppedData is emitted when the supervised server process stops.
type ProcessStoppedData struct{}

// ProcessExitedData is emitted when the monitor loop detects an unexpected
// child exit.
type ProcessExitedData struct {
	Error string `json:"error"`
}

// ProcessHealthData is emitted periodically by the monitor loop while the
// process is running.
type ProcessHealthData struct {
	PID    int    `json:"pid"`
	Uptime string `json:"uptime"`
}

// ConfigChangedData is emitted when server or daemon configuration changes.
type ConfigChangedData struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// ApplicationReadyData is emitted once the daemon has finished wiring.
type ApplicationReadyData struct {
	Version  string   `json:"version"`
	Features []string `json:"features,omitempty"`
}

// ApplicationShutdownData is emitted as the daemon shuts down.
type ApplicationShutdownData struct {
	Reason string `json:"reason,omitempty"`
}

// Error events.

// ErrorData carries a classified failure surfaced as an event.
type ErrorData struct {
	Error     string `json:"error"`
	Component string `json:"component,omitempty"`
	Context   string `json:"context,omitempty"`
	Retryable bool   `json:"retryable"`
}
