package interview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	interviewmodel "github.com/zhouzirui/ai-interviewer/backend/internal/model/interview"
	resumemodel "github.com/zhouzirui/ai-interviewer/backend/internal/model/resume"
	"github.com/zhouzirui/ai-interviewer/backend/internal/service/ai"
	interviewservice "github.com/zhouzirui/ai-interviewer/backend/internal/service/interview"
)

type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, audio []byte) (string, error) {
	return string(audio), nil
}

type respondFunc func(ctx context.Context, userText string) (string, error)

func (f respondFunc) Respond(ctx context.Context, userText string) (string, error) {
	return f(ctx, userText)
}

type tagSynthesizer struct{}

func (tagSynthesizer) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

// resumeAwareModel answers with the resume line it was prompted with.
type resumeAwareModel struct{}

func (resumeAwareModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	system := input[0].Content
	for _, line := range strings.Split(system, "\n") {
		if strings.HasPrefix(line, "RESUME CONTEXT: ") {
			return schema.AssistantMessage("Tell me about: "+strings.TrimPrefix(line, "RESUME CONTEXT: "), nil), nil
		}
	}
	return nil, errors.New("system prompt missing resume context")
}

func (m resumeAwareModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func startGateway(t *testing.T, responder interviewservice.Responder) (*httptest.Server, *interviewservice.Registry) {
	t.Helper()

	registry := interviewservice.NewRegistry()
	opts := interviewservice.DefaultOptions()
	opts.Voice = "interviewer"

	handler := New(echoTranscriber{}, responder, tagSynthesizer{}, registry, Config{Session: opts})

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
	})
	return server, registry
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/interview"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readTranscript(t *testing.T, conn *websocket.Conn) interviewmodel.TranscriptMessage {
	t.Helper()
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("expected text frame, got type %d", messageType)
	}
	var msg interviewmodel.TranscriptMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid transcript %q: %v", data, err)
	}
	if msg.Type != interviewmodel.MessageTypeTranscript {
		t.Fatalf("message type = %q, want transcript", msg.Type)
	}
	return msg
}

func readAudio(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got type %d", messageType)
	}
	return data
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, code) {
		t.Fatalf("expected close code %d, got %v", code, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInterviewTurnWithResume(t *testing.T) {
	store := resumemodel.NewStore()
	store.Set("Skilled in distributed systems.")

	responder, err := ai.NewService(context.Background(), resumeAwareModel{}, store)
	if err != nil {
		t.Fatalf("ai.NewService returned error: %v", err)
	}
	server, _ := startGateway(t, responder)
	conn := dial(t, server)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("Hi")); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	user := readTranscript(t, conn)
	if user.Role != interviewmodel.RoleUser || user.Content != "Hi" {
		t.Fatalf("first message = %+v, want user Hi", user)
	}

	reply := readTranscript(t, conn)
	if reply.Role != interviewmodel.RoleAI || reply.Content != "Tell me about: Skilled in distributed systems." {
		t.Fatalf("second message = %+v, want ai reply grounded in resume", reply)
	}

	if audio := readAudio(t, conn); string(audio) != "mp3:"+reply.Content {
		t.Fatalf("audio = %q, want synthesized reply", audio)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	expectClose(t, conn, websocket.CloseNormalClosure)
}

func TestInterviewSilenceIsDiscarded(t *testing.T) {
	server, _ := startGateway(t, respondFunc(func(_ context.Context, text string) (string, error) {
		return "Q: " + text, nil
	}))
	conn := dial(t, server)

	conn.WriteMessage(websocket.BinaryMessage, []byte(" "))
	conn.WriteMessage(websocket.BinaryMessage, []byte("Go"))

	if msg := readTranscript(t, conn); msg.Content != "Go" {
		t.Fatalf("first message = %+v, silence should emit nothing", msg)
	}
}

func TestInterviewSessionsAreIsolated(t *testing.T) {
	server, registry := startGateway(t, respondFunc(func(_ context.Context, text string) (string, error) {
		return "Q: " + text, nil
	}))

	alpha := dial(t, server)
	bravo := dial(t, server)
	waitFor(t, func() bool { return registry.Len() == 2 })

	alpha.WriteMessage(websocket.BinaryMessage, []byte("Alpha"))
	bravo.WriteMessage(websocket.BinaryMessage, []byte("Bravo"))

	for _, tc := range []struct {
		conn *websocket.Conn
		text string
	}{{alpha, "Alpha"}, {bravo, "Bravo"}} {
		if msg := readTranscript(t, tc.conn); msg.Content != tc.text {
			t.Fatalf("user transcript = %q, want %q", msg.Content, tc.text)
		}
		if msg := readTranscript(t, tc.conn); msg.Content != "Q: "+tc.text {
			t.Fatalf("ai transcript = %q, want %q", msg.Content, "Q: "+tc.text)
		}
		if audio := readAudio(t, tc.conn); string(audio) != "mp3:Q: "+tc.text {
			t.Fatalf("audio = %q", audio)
		}
	}

	alpha.Close()
	waitFor(t, func() bool { return registry.Len() == 1 })

	bravo.WriteMessage(websocket.BinaryMessage, []byte("Still here"))
	if msg := readTranscript(t, bravo); msg.Content != "Still here" {
		t.Fatalf("surviving session got %q", msg.Content)
	}
}

func TestInterviewInferenceFailureClosesConnection(t *testing.T) {
	server, registry := startGateway(t, respondFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	}))
	conn := dial(t, server)

	conn.WriteMessage(websocket.BinaryMessage, []byte("Hello"))

	if msg := readTranscript(t, conn); msg.Role != interviewmodel.RoleUser {
		t.Fatalf("expected user transcript before failure, got %+v", msg)
	}
	expectClose(t, conn, websocket.CloseInternalServerErr)
	waitFor(t, func() bool { return registry.Len() == 0 })
}

func TestInterviewRejectsTextFrames(t *testing.T) {
	server, _ := startGateway(t, respondFunc(func(context.Context, string) (string, error) {
		return "unused", nil
	}))
	conn := dial(t, server)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio"}`))
	expectClose(t, conn, websocket.CloseUnsupportedData)
}

func TestInterviewShutdownEndsSessions(t *testing.T) {
	server, registry := startGateway(t, respondFunc(func(context.Context, string) (string, error) {
		return "unused", nil
	}))
	conn := dial(t, server)
	waitFor(t, func() bool { return registry.Len() == 1 })

	registry.CloseAll()

	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to end after CloseAll")
	}
}

func TestInterviewUnavailable(t *testing.T) {
	handler := New(nil, nil, nil, nil, Config{})
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/ws/interview", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if handler.Available() {
		t.Fatal("handler without collaborators should be unavailable")
	}
}

func TestCloseStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantSend bool
	}{
		{name: "clean", err: nil, wantCode: websocket.CloseNormalClosure, wantSend: true},
		{name: "malformed", err: &interviewservice.TransportError{Op: "read", Err: interviewservice.ErrMalformedFrame}, wantCode: websocket.CloseUnsupportedData, wantSend: true},
		{name: "broken transport", err: &interviewservice.TransportError{Op: "read", Err: errors.New("reset")}, wantSend: false},
		{name: "inference", err: &interviewservice.InferenceError{Err: errors.New("x")}, wantCode: websocket.CloseInternalServerErr, wantSend: true},
		{name: "critical", err: &interviewservice.CriticalError{Value: "boom"}, wantCode: websocket.CloseInternalServerErr, wantSend: true},
	}

	for _, tt := range tests {
		code, _, send := closeStatus(tt.err)
		if send != tt.wantSend || (send && code != tt.wantCode) {
			t.Errorf("%s: closeStatus = (%d,%v), want (%d,%v)", tt.name, code, send, tt.wantCode, tt.wantSend)
		}
	}
}
