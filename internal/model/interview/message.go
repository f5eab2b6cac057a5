package interview

// Role identifies who produced a transcript line.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// MessageTypeTranscript is the type tag of every JSON frame sent to the client.
const MessageTypeTranscript = "transcript"

// TranscriptMessage is the structured frame emitted for each side of a turn.
// Synthesized audio is sent as a raw binary frame and has no JSON envelope.
type TranscriptMessage struct {
	Type    string `json:"type"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewTranscript builds a transcript frame for the given role.
func NewTranscript(role Role, content string) TranscriptMessage {
	return TranscriptMessage{Type: MessageTypeTranscript, Role: role, Content: content}
}
