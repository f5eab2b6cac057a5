package interview

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/zhouzirui/ai-interviewer/backend/internal/model/interview"
)

type transcribeFunc func(ctx context.Context, audio []byte) (string, error)

func (f transcribeFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

type respondFunc func(ctx context.Context, userText string) (string, error)

func (f respondFunc) Respond(ctx context.Context, userText string) (string, error) {
	return f(ctx, userText)
}

type synthesizeFunc func(ctx context.Context, text, voice string) ([]byte, error)

func (f synthesizeFunc) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return f(ctx, text, voice)
}

// echoTranscriber treats the audio bytes as the spoken text.
var echoTranscriber = transcribeFunc(func(_ context.Context, audio []byte) (string, error) {
	return string(audio), nil
})

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func binaryFrame(s string) inboundFrame {
	return inboundFrame{messageType: websocket.BinaryMessage, data: []byte(s)}
}

type outboundFrame struct {
	messageType int
	transcript  model.TranscriptMessage
	data        []byte
}

// fakeConn replays inbound frames and then reports a normal close.
type fakeConn struct {
	mu        sync.Mutex
	inbound   []inboundFrame
	written   []outboundFrame
	deadlines int
	writeErr  error
}

func newFakeConn(frames ...inboundFrame) *fakeConn {
	return &fakeConn{inbound: frames}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.inbound) == 0 {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	frame := c.inbound[0]
	c.inbound = c.inbound[1:]
	return frame.messageType, frame.data, frame.err
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, outboundFrame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg model.TranscriptMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	c.written = append(c.written, outboundFrame{messageType: websocket.TextMessage, transcript: msg})
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error {
	c.mu.Lock()
	c.deadlines++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) frames() []outboundFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]outboundFrame(nil), c.written...)
}
