package types

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a wire role string to a Role. Unknown roles return
// ok == false and must be dropped by callers.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "user":
		return RoleUser, true
	case "assistant":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// ChatMessage is a single message within a chat session.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// StreamFrame is the JSON payload of a single `data:` line on the server's
// /event stream. is_chunk distinguishes incremental deltas from complete
// messages.
type StreamFrame struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	IsChunk   *bool  `json:"is_chunk,omitempty"`
}

// Chunk reports whether the frame is an incremental content delta.
func (f StreamFrame) Chunk() bool {
	return f.IsChunk != nil && *f.IsChunk
}
