package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/ai-interviewer/backend/internal/model/interview"
)

// Transcriber turns one chunk of encoded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Responder produces the interviewer's reply to the candidate's utterance.
type Responder interface {
	Respond(ctx context.Context, userText string) (string, error)
}

// Synthesizer renders reply text as encoded audio in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Conn is the slice of *websocket.Conn a session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
}

// Transcript is the outcome of the transcription step. A failed call yields a
// degraded transcript carrying SentinelTranscript and the cause.
type Transcript struct {
	Text     string
	Degraded bool
	Err      error
}

// Options tunes a session. Zero durations disable the corresponding timeout.
type Options struct {
	Voice              string
	ReadTimeout        time.Duration
	TranscribeTimeout  time.Duration
	RespondTimeout     time.Duration
	SynthesizeTimeout  time.Duration
	MinTranscriptRunes int
	// DiscardDegraded drops turns whose transcription failed instead of
	// sending the sentinel text through inference.
	DiscardDegraded bool
	// OnState observes every state transition.
	OnState func(model.State)
}

// DefaultOptions returns the production timeouts.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:        60 * time.Second,
		TranscribeTimeout:  30 * time.Second,
		RespondTimeout:     60 * time.Second,
		SynthesizeTimeout:  30 * time.Second,
		MinTranscriptRunes: 2,
	}
}

// Session runs the receive, transcribe, respond, synthesize loop for one
// connection. Turns are strictly sequential; a session holds no history.
type Session struct {
	id          string
	conn        Conn
	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer
	opts        Options
	metrics     *turnMetrics

	state atomic.Int32
	ran   atomic.Bool
}

// NewSession wires a session to its connection and collaborators.
func NewSession(conn Conn, transcriber Transcriber, responder Responder, synthesizer Synthesizer, opts Options) *Session {
	if opts.MinTranscriptRunes <= 0 {
		opts.MinTranscriptRunes = 2
	}
	return &Session{
		id:          uuid.NewString(),
		conn:        conn,
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		opts:        opts,
		metrics:     defaultTurnMetrics,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current loop state.
func (s *Session) State() model.State {
	return model.State(s.state.Load())
}

func (s *Session) setState(state model.State) {
	s.state.Store(int32(state))
	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}

// Run processes turns until the peer closes the connection, ctx is cancelled,
// or a turn fails fatally. A clean close returns nil. Errors are one of
// *TransportError, *InferenceError, *SynthesisError or *CriticalError.
func (s *Session) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	defer s.setState(model.StateClosed)

	for {
		s.setState(model.StateAwaitingChunk)

		audio, err := s.receive()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errPeerClosed) {
				return nil
			}
			return err
		}

		if err := s.turn(ctx, audio); err != nil {
			if ctx.Err() != nil && !isCritical(err) {
				return nil
			}
			return err
		}
	}
}

var errPeerClosed = errors.New("peer closed connection")

func (s *Session) receive() ([]byte, error) {
	if s.opts.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}
	}

	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, errPeerClosed
		}
		return nil, &TransportError{Op: "read", Err: err}
	}
	if messageType != websocket.BinaryMessage {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("%w: got message type %d", ErrMalformedFrame, messageType)}
	}
	return data, nil
}

// turn handles one audio chunk. Panics are converted into *CriticalError.
func (s *Session) turn(ctx context.Context, audio []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CriticalError{Value: r, Stack: debug.Stack()}
			s.metrics.recordTurn(ctx, outcomeFailed)
		}
	}()

	s.setState(model.StateTranscribing)
	transcript := s.transcribe(ctx, audio)
	if transcript.Degraded {
		log.Printf("[interview] session %s transcription degraded: %v", s.id, transcript.Err)
	}

	if !s.accept(transcript) {
		s.setState(model.StateDiscard)
		s.metrics.recordTurn(ctx, outcomeDiscarded)
		return nil
	}

	s.setState(model.StateResponding)
	if err := s.emit(model.RoleUser, transcript.Text); err != nil {
		return err
	}

	reply, err := s.respond(ctx, transcript.Text)
	if err != nil {
		s.metrics.recordTurn(ctx, outcomeFailed)
		return &InferenceError{Err: err}
	}

	if err := s.emit(model.RoleAI, reply); err != nil {
		return err
	}

	speech, err := s.synthesize(ctx, reply)
	if err != nil {
		s.metrics.recordTurn(ctx, outcomeFailed)
		return &SynthesisError{Err: err}
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, speech); err != nil {
		return &TransportError{Op: "write audio", Err: err}
	}

	if transcript.Degraded {
		s.metrics.recordTurn(ctx, outcomeDegraded)
	} else {
		s.metrics.recordTurn(ctx, outcomeResponded)
	}
	return nil
}

func (s *Session) transcribe(ctx context.Context, audio []byte) Transcript {
	callCtx, cancel := withTimeout(ctx, s.opts.TranscribeTimeout)
	defer cancel()

	started := time.Now()
	text, err := s.transcriber.Transcribe(callCtx, audio)
	s.metrics.recordStage(ctx, stageTranscribe, started)
	if err != nil {
		return Transcript{Text: SentinelTranscript, Degraded: true, Err: err}
	}
	return Transcript{Text: text}
}

// accept rejects silence, noise and, when configured, degraded transcripts.
func (s *Session) accept(t Transcript) bool {
	if t.Degraded && s.opts.DiscardDegraded {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(t.Text)) >= s.opts.MinTranscriptRunes
}

func (s *Session) respond(ctx context.Context, userText string) (string, error) {
	callCtx, cancel := withTimeout(ctx, s.opts.RespondTimeout)
	defer cancel()

	started := time.Now()
	defer s.metrics.recordStage(ctx, stageRespond, started)
	return s.responder.Respond(callCtx, userText)
}

func (s *Session) synthesize(ctx context.Context, text string) ([]byte, error) {
	callCtx, cancel := withTimeout(ctx, s.opts.SynthesizeTimeout)
	defer cancel()

	started := time.Now()
	defer s.metrics.recordStage(ctx, stageSynthesize, started)
	return s.synthesizer.Synthesize(callCtx, text, s.opts.Voice)
}

func (s *Session) emit(role model.Role, content string) error {
	if err := s.conn.WriteJSON(model.NewTranscript(role, content)); err != nil {
		return &TransportError{Op: "write " + string(role) + " transcript", Err: err}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isCritical(err error) bool {
	var critical *CriticalError
	return errors.As(err, &critical)
}
