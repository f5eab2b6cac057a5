package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ai-interviewer/backend/internal/model/speech"
)

const (
	defaultASRURL        = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	defaultASRChunkBytes = 6400 // 16kHz, 16bit, mono, 200ms
	asrSuccessCode       = 20000000
)

// ErrEmptyAudio 音频为空时返回
var ErrEmptyAudio = errors.New("no audio data to send")

// ASRClient 火山引擎大模型流式识别客户端
type ASRClient struct {
	config *speech.SpeechConfig
	dialer *websocket.Dialer
}

// NewASRClient 创建火山引擎ASR客户端
func NewASRClient(config *speech.SpeechConfig) *ASRClient {
	return &ASRClient{
		config: config,
		dialer: newDialer(config),
	}
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// asrRequestPayload full client request 的 JSON 结构
type asrRequestPayload struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// Transcribe 通过 websocket 发送整段音频并返回最终识别文本
func (c *ASRClient) Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if len(req.AudioData) == 0 {
		return nil, ErrEmptyAudio
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	resourceID := "volc.bigasr.sauc.duration"
	if c.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}

	connectID := req.SessionID
	if connectID == "" {
		connectID = uuid.NewString()
	}

	url := c.config.ASRURL
	if url == "" {
		url = defaultASRURL
	}

	conn, resp, err := c.dialer.DialContext(ctx, url, authHeader(appID, token, resourceID, connectID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[ASR] connected with logid: %s", logid)
		}
	}

	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := encodePayload(payload, GzipCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to compress ASR request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newFullClientRequest(compressed, GzipCompression).Marshal()); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 服务端可能提前返回错误，收发并发进行
	respCh := make(chan *speech.ASRResponse, 1)
	recvErrCh := make(chan error, 1)
	go func() {
		result, err := c.receive(conn, connectID)
		if err != nil {
			recvErrCh <- err
			return
		}
		respCh <- result
	}()

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- c.sendAudio(ctx, conn, req.AudioData)
	}()

	for {
		select {
		case err := <-sendErrCh:
			if err != nil {
				return nil, fmt.Errorf("failed to send audio data: %w", err)
			}
			sendErrCh = nil
		case result := <-respCh:
			return result, nil
		case err := <-recvErrCh:
			return nil, err
		case <-ctx.Done():
			// 关闭连接以解除 receive 中阻塞的读取
			conn.Close()
			return nil, ctx.Err()
		}
	}
}

func (c *ASRClient) buildRequest(req *speech.ASRRequest) *asrRequestPayload {
	p := &asrRequestPayload{}
	p.User.UID = req.SessionID

	p.Audio.Format = firstNonEmpty(req.Format, c.config.ASRFormat, "wav")
	p.Audio.Language = firstNonEmpty(req.Language, c.config.ASRLanguage, "en-US")
	p.Audio.Codec = "raw"
	p.Audio.Rate = 16000
	p.Audio.Bits = 16
	p.Audio.Channel = 1

	p.Request.ModelName = firstNonEmpty(c.config.ASRModel, "bigmodel")
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

// sendAudio 分包发送音频，首包序号为 2（full client request 占用 1）
func (c *ASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	chunkSize := c.config.ASRChunkBytes
	if chunkSize <= 0 {
		chunkSize = defaultASRChunkBytes
	}

	sequence := int32(2)
	for start := 0; start < len(audio); start += chunkSize {
		end := min(start+chunkSize, len(audio))
		last := end == len(audio)

		chunk, err := encodePayload(audio[start:end], GzipCompression)
		if err != nil {
			return fmt.Errorf("failed to compress audio chunk: %w", err)
		}

		frame := newAudioOnlyRequest(chunk, sequence, last, GzipCompression)
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Marshal()); err != nil {
			return fmt.Errorf("failed to send audio chunk %d: %w", sequence, err)
		}
		sequence++

		if last || c.config.ASRChunkDelay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ASRChunkDelay):
		}
	}
	return nil
}

func (c *ASRClient) receive(conn *websocket.Conn, sessionID string) (*speech.ASRResponse, error) {
	var (
		finalText string
		duration  int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}

		frame, err := ParseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch frame.Type {
		case ErrorMessage:
			payload, _ := decodePayload(frame.Payload, frame.Compression)
			return nil, fmt.Errorf("ASR error %d: %s", frame.ErrorCode, string(payload))

		case FullServerResponse:
			payload, err := decodePayload(frame.Payload, frame.Compression)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}

			var msg asrServerMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}
			if msg.Code != 0 && msg.Code != asrSuccessCode {
				return nil, fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message)
			}

			text := msg.Result.Text
			if text == "" {
				text = joinUtterances(msg.Result.Utterances)
			}
			if text != "" {
				finalText = text
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if frame.IsLast() || msg.Sequence < 0 {
				if finalText == "" {
					log.Printf("[ASR] empty transcript for session %s", sessionID)
				}
				return &speech.ASRResponse{
					SessionID: sessionID,
					Text:      finalText,
					Duration:  duration,
					RequestID: sessionID,
					CreatedAt: time.Now(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}

func newDialer(config *speech.SpeechConfig) *websocket.Dialer {
	timeout := 30 * time.Second
	if config != nil && config.Timeout > 0 {
		timeout = config.Timeout
	}
	return &websocket.Dialer{HandshakeTimeout: timeout}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
