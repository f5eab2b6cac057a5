package interview

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned when Run is called on a session that already finished.
var ErrSessionClosed = errors.New("interview session closed")

// SentinelTranscript replaces the user text when transcription fails.
const SentinelTranscript = "Error in speech recognition."

// InferenceError reports a failed or timed-out language model call.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// SynthesisError reports a failed speech synthesis call.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// TransportError reports a broken or misbehaving client connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrMalformedFrame marks an inbound frame that is not binary audio.
var ErrMalformedFrame = errors.New("expected binary audio frame")

// CriticalError wraps a panic recovered while processing a turn.
type CriticalError struct {
	Value any
	Stack []byte
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical session error: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *CriticalError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
