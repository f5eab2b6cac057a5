package interview

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/ai-interviewer/backend/internal/model/interview"
)

func fixedReply(reply string) Responder {
	return respondFunc(func(context.Context, string) (string, error) { return reply, nil })
}

func fixedAudio(audio string) Synthesizer {
	return synthesizeFunc(func(context.Context, string, string) ([]byte, error) { return []byte(audio), nil })
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Voice = "interviewer"
	return opts
}

func TestSessionDiscardsShortTranscripts(t *testing.T) {
	inputs := []string{"", " ", "a", "  b  ", "\n\t", "é"}

	for _, input := range inputs {
		var calls atomic.Int32
		responder := respondFunc(func(context.Context, string) (string, error) {
			calls.Add(1)
			return "unexpected", nil
		})

		conn := newFakeConn(binaryFrame(input))
		session := NewSession(conn, echoTranscriber, responder, fixedAudio("mp3"), testOptions())

		if err := session.Run(context.Background()); err != nil {
			t.Fatalf("Run(%q) returned error: %v", input, err)
		}
		if got := conn.frames(); len(got) != 0 {
			t.Fatalf("Run(%q) emitted %d frames, want 0", input, len(got))
		}
		if calls.Load() != 0 {
			t.Fatalf("Run(%q) called responder %d times", input, calls.Load())
		}
	}
}

func TestSessionTurnOrdering(t *testing.T) {
	responder := respondFunc(func(_ context.Context, userText string) (string, error) {
		return "Q: " + userText, nil
	})
	synthesizer := synthesizeFunc(func(_ context.Context, text, voice string) ([]byte, error) {
		if voice != "interviewer" {
			t.Errorf("Synthesize voice = %q, want interviewer", voice)
		}
		return []byte("audio:" + text), nil
	})

	conn := newFakeConn(binaryFrame("Hi"), binaryFrame("x"), binaryFrame("I like Go"))
	session := NewSession(conn, echoTranscriber, responder, synthesizer, testOptions())

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	got := conn.frames()
	if len(got) != 6 {
		t.Fatalf("emitted %d frames, want 6", len(got))
	}

	turns := []struct{ user, ai string }{{"Hi", "Q: Hi"}, {"I like Go", "Q: I like Go"}}
	for i, turn := range turns {
		user, ai, audio := got[i*3], got[i*3+1], got[i*3+2]

		want := model.NewTranscript(model.RoleUser, turn.user)
		if user.messageType != websocket.TextMessage || user.transcript != want {
			t.Fatalf("turn %d frame 0 = %+v, want %+v", i, user, want)
		}
		want = model.NewTranscript(model.RoleAI, turn.ai)
		if ai.messageType != websocket.TextMessage || ai.transcript != want {
			t.Fatalf("turn %d frame 1 = %+v, want %+v", i, ai, want)
		}
		if audio.messageType != websocket.BinaryMessage || string(audio.data) != "audio:"+turn.ai {
			t.Fatalf("turn %d frame 2 = %+v, want binary audio", i, audio)
		}
	}

	if session.State() != model.StateClosed {
		t.Fatalf("state after Run = %v, want closed", session.State())
	}
}

func TestSessionTranscriptionFailureUsesSentinel(t *testing.T) {
	failing := transcribeFunc(func(context.Context, []byte) (string, error) {
		return "", errors.New("stt unavailable")
	})

	var gotUserText string
	responder := respondFunc(func(_ context.Context, userText string) (string, error) {
		gotUserText = userText
		return "Could you repeat that?", nil
	})

	conn := newFakeConn(binaryFrame("noise"))
	session := NewSession(conn, failing, responder, fixedAudio("mp3"), testOptions())

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if gotUserText != SentinelTranscript {
		t.Fatalf("responder got %q, want sentinel %q", gotUserText, SentinelTranscript)
	}

	got := conn.frames()
	if len(got) != 3 {
		t.Fatalf("emitted %d frames, want 3", len(got))
	}
	if got[0].transcript.Content != SentinelTranscript || got[0].transcript.Role != model.RoleUser {
		t.Fatalf("user transcript = %+v, want sentinel", got[0].transcript)
	}
}

func TestSessionDiscardDegraded(t *testing.T) {
	failing := transcribeFunc(func(context.Context, []byte) (string, error) {
		return "", errors.New("stt unavailable")
	})

	opts := testOptions()
	opts.DiscardDegraded = true

	conn := newFakeConn(binaryFrame("noise"))
	session := NewSession(conn, failing, fixedReply("unexpected"), fixedAudio("mp3"), opts)

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := conn.frames(); len(got) != 0 {
		t.Fatalf("emitted %d frames, want 0", len(got))
	}
}

func TestSessionInferenceFailureEndsSession(t *testing.T) {
	cause := errors.New("quota exceeded")
	responder := respondFunc(func(context.Context, string) (string, error) { return "", cause })

	var synthCalls atomic.Int32
	synthesizer := synthesizeFunc(func(context.Context, string, string) ([]byte, error) {
		synthCalls.Add(1)
		return []byte("mp3"), nil
	})

	conn := newFakeConn(binaryFrame("Hello"), binaryFrame("never read"))
	session := NewSession(conn, echoTranscriber, responder, synthesizer, testOptions())

	err := session.Run(context.Background())
	var inferenceErr *InferenceError
	if !errors.As(err, &inferenceErr) {
		t.Fatalf("Run error = %v, want *InferenceError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Run error does not wrap cause: %v", err)
	}

	got := conn.frames()
	if len(got) != 1 || got[0].transcript.Role != model.RoleUser {
		t.Fatalf("frames = %+v, want only the user transcript", got)
	}
	if synthCalls.Load() != 0 {
		t.Fatal("synthesizer should not be called after inference failure")
	}
	if session.State() != model.StateClosed {
		t.Fatalf("state = %v, want closed", session.State())
	}
}

func TestSessionSynthesisFailureEndsSession(t *testing.T) {
	synthesizer := synthesizeFunc(func(context.Context, string, string) ([]byte, error) {
		return nil, errors.New("tts down")
	})

	conn := newFakeConn(binaryFrame("Hello"))
	session := NewSession(conn, echoTranscriber, fixedReply("Tell me about Go."), synthesizer, testOptions())

	err := session.Run(context.Background())
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Run error = %v, want *SynthesisError", err)
	}

	got := conn.frames()
	if len(got) != 2 || got[1].transcript.Role != model.RoleAI {
		t.Fatalf("frames = %+v, want user and ai transcripts only", got)
	}
}

func TestSessionRespondTimeout(t *testing.T) {
	responder := respondFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	opts := testOptions()
	opts.RespondTimeout = 20 * time.Millisecond

	conn := newFakeConn(binaryFrame("Hello"))
	session := NewSession(conn, echoTranscriber, responder, fixedAudio("mp3"), opts)

	err := session.Run(context.Background())
	var inferenceErr *InferenceError
	if !errors.As(err, &inferenceErr) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want *InferenceError wrapping deadline", err)
	}
}

func TestSessionTranscribeTimeoutDegrades(t *testing.T) {
	slow := transcribeFunc(func(ctx context.Context, _ []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	var gotUserText string
	responder := respondFunc(func(_ context.Context, userText string) (string, error) {
		gotUserText = userText
		return "ok", nil
	})

	opts := testOptions()
	opts.TranscribeTimeout = 20 * time.Millisecond

	conn := newFakeConn(binaryFrame("Hello"))
	session := NewSession(conn, slow, responder, fixedAudio("mp3"), opts)

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if gotUserText != SentinelTranscript {
		t.Fatalf("responder got %q, want sentinel", gotUserText)
	}
}

func TestSessionRejectsTextFrames(t *testing.T) {
	conn := newFakeConn(inboundFrame{messageType: websocket.TextMessage, data: []byte(`{"hello":1}`)})
	session := NewSession(conn, echoTranscriber, fixedReply("unused"), fixedAudio("mp3"), testOptions())

	err := session.Run(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Run error = %v, want *TransportError wrapping ErrMalformedFrame", err)
	}
}

func TestSessionReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
	}{
		{name: "normal close", err: &websocket.CloseError{Code: websocket.CloseNormalClosure}, wantNil: true},
		{name: "going away", err: &websocket.CloseError{Code: websocket.CloseGoingAway}, wantNil: true},
		{name: "abnormal close", err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure}},
		{name: "eof", err: io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		conn := newFakeConn(inboundFrame{err: tt.err})
		session := NewSession(conn, echoTranscriber, fixedReply("unused"), fixedAudio("mp3"), testOptions())

		err := session.Run(context.Background())
		if tt.wantNil {
			if err != nil {
				t.Fatalf("%s: Run error = %v, want nil", tt.name, err)
			}
			continue
		}
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("%s: Run error = %v, want *TransportError", tt.name, err)
		}
	}
}

func TestSessionWriteFailure(t *testing.T) {
	conn := newFakeConn(binaryFrame("Hello"))
	conn.writeErr = errors.New("broken pipe")
	session := NewSession(conn, echoTranscriber, fixedReply("Next?"), fixedAudio("mp3"), testOptions())

	err := session.Run(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Run error = %v, want *TransportError", err)
	}
	if !strings.Contains(transportErr.Op, "user") {
		t.Fatalf("transport op = %q, want user transcript write", transportErr.Op)
	}
}

func TestSessionRecoversPanic(t *testing.T) {
	responder := respondFunc(func(context.Context, string) (string, error) {
		panic("model exploded")
	})

	conn := newFakeConn(binaryFrame("Hello"))
	session := NewSession(conn, echoTranscriber, responder, fixedAudio("mp3"), testOptions())

	err := session.Run(context.Background())
	var critical *CriticalError
	if !errors.As(err, &critical) {
		t.Fatalf("Run error = %v, want *CriticalError", err)
	}
	if critical.Value != "model exploded" || len(critical.Stack) == 0 {
		t.Fatalf("critical error = %+v", critical)
	}
	if session.State() != model.StateClosed {
		t.Fatalf("state = %v, want closed", session.State())
	}
}

func TestSessionRunTwice(t *testing.T) {
	session := NewSession(newFakeConn(), echoTranscriber, fixedReply("x"), fixedAudio("mp3"), testOptions())
	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	if err := session.Run(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("second Run error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionStateTransitions(t *testing.T) {
	var states []model.State
	opts := testOptions()
	opts.OnState = func(s model.State) { states = append(states, s) }

	conn := newFakeConn(binaryFrame("."), binaryFrame("Hi"))
	session := NewSession(conn, echoTranscriber, fixedReply("Welcome."), fixedAudio("mp3"), opts)

	if err := session.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []model.State{
		model.StateAwaitingChunk, model.StateTranscribing, model.StateDiscard,
		model.StateAwaitingChunk, model.StateTranscribing, model.StateResponding,
		model.StateAwaitingChunk, model.StateClosed,
	}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	if conn.deadlines != 3 {
		t.Fatalf("read deadline set %d times, want 3", conn.deadlines)
	}
}

func TestSessionCancelledContextEndsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	responder := respondFunc(func(ctx context.Context, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	})

	conn := newFakeConn(binaryFrame("Hello"))
	session := NewSession(conn, echoTranscriber, responder, fixedAudio("mp3"), testOptions())

	if err := session.Run(ctx); err != nil {
		t.Fatalf("Run error = %v, want nil after shutdown", err)
	}
}
