package interview

import "time"

// State is the position of a session within its turn loop.
type State int32

const (
	StateAwaitingChunk State = iota
	StateTranscribing
	StateDiscard
	StateResponding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingChunk:
		return "awaiting_chunk"
	case StateTranscribing:
		return "transcribing"
	case StateDiscard:
		return "discard"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo describes an active interview connection.
type SessionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
}
