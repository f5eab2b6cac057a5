package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ai-interviewer/backend/internal/model/speech"
)

const (
	defaultTTSURL   = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
	defaultTTSVoice = "en_male_corey_emo_v2_mars_bigtts"

	ttsResourceDefault = "volc.service_type.10029"
	ttsResourceMega    = "volc.megatts.default"
	ttsResourceSeed    = "seed-tts-2.0"

	ttsSessionFinishedCode = 20000000
)

// ErrEmptyText 合成文本为空
var ErrEmptyText = errors.New("TTS text is empty")

// TTSClient 火山引擎单向流式语音合成客户端
type TTSClient struct {
	config *speech.SpeechConfig
	dialer *websocket.Dialer
}

// NewTTSClient 创建火山引擎TTS客户端
func NewTTSClient(config *speech.SpeechConfig) *TTSClient {
	return &TTSClient{
		config: config,
		dialer: newDialer(config),
	}
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsRequestPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// Synthesize 合成整段文本，依次尝试候选发音人与资源ID
func (c *TTSClient) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	speakers := resolveSpeakerCandidates(req.Voice, firstNonEmpty(c.config.TTSVoice, defaultTTSVoice))

	var lastMismatch error
	for _, speaker := range speakers {
		for idx, resourceID := range resolveResourceCandidates(speaker) {
			resp, err := c.synthesizeWith(ctx, req, appID, token, speaker, resourceID)
			if err == nil {
				if idx > 0 {
					log.Printf("[TTS] voice %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return resp, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			log.Printf("[TTS] voice %s resource %s mismatch: %v", speaker, resourceID, err)
			lastMismatch = err
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("TTS synthesis failed: no compatible resource for voices %v", speakers)
}

func (c *TTSClient) synthesizeWith(ctx context.Context, req *speech.TTSRequest, appID, token, speaker, resourceID string) (*speech.TTSResponse, error) {
	connectID := uuid.NewString()
	url := firstNonEmpty(c.config.TTSURL, defaultTTSURL)

	conn, resp, err := c.dialer.DialContext(ctx, url, authHeader(appID, token, resourceID, connectID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[TTS] connected with logid: %s", logid)
		}
	}

	payload, err := json.Marshal(c.buildRequest(req, speaker))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newFullClientRequest(payload, NoCompression).Marshal()); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	// 阻塞读取时依赖关闭连接响应取消
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	result, err := c.collectAudio(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	result.SessionID = req.SessionID
	result.Format = c.format(req)
	if result.RequestID == "" {
		result.RequestID = connectID
	}
	return result, nil
}

func (c *TTSClient) collectAudio(conn *websocket.Conn) (*speech.TTSResponse, error) {
	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		frame, err := ParseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch frame.Type {
		case ErrorMessage:
			payload, _ := decodePayload(frame.Payload, frame.Compression)
			return nil, fmt.Errorf("TTS error %d: %s", frame.ErrorCode, string(payload))

		case AudioOnlyServerResponse:
			chunk, err := decodePayload(frame.Payload, frame.Compression)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case FullServerResponse:
			payload, err := decodePayload(frame.Payload, frame.Compression)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
			}

			var msg ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &msg); err != nil {
					log.Printf("[TTS] failed to unmarshal response payload: %v", err)
				} else {
					if msg.Code != 0 && msg.Code != 3000 && msg.Code != ttsSessionFinishedCode {
						return nil, fmt.Errorf("TTS API error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
						duration = ms
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (frame.hasEvent() && frame.Event == EventSessionFinished) || frame.IsLast() || msg.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, errors.New("TTS audio is empty")
			}
			return &speech.TTSResponse{
				AudioData: audio.Bytes(),
				Duration:  duration,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			log.Printf("[TTS] unexpected message type: %d", frame.Type)
		}
	}
}

func (c *TTSClient) format(req *speech.TTSRequest) string {
	format := firstNonEmpty(req.Format, c.config.TTSFormat, "mp3")
	if format == "wav" {
		// 单向流式接口不支持 wav 容器
		format = "mp3"
	}
	return format
}

func (c *TTSClient) buildRequest(req *speech.TTSRequest, speaker string) *ttsRequestPayload {
	p := &ttsRequestPayload{}

	p.User.UID = req.SessionID
	if p.User.UID == "" {
		p.User.UID = uuid.NewString()
	}

	p.ReqParams.Speaker = firstNonEmpty(speaker, c.config.TTSVoice, defaultTTSVoice)
	p.ReqParams.Text = req.Text
	p.ReqParams.AudioParams.Format = c.format(req)
	p.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		p.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		p.ReqParams.AudioParams.VolumeRatio = volume
	}

	p.ReqParams.Language = firstNonEmpty(req.Language, c.config.TTSLanguage)
	p.ReqParams.Additions = `{"disable_markdown_filter":true}`
	return p
}

func resolveResourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{ttsResourceMega}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{ttsResourceSeed, ttsResourceDefault}
		}
	}
	return []string{ttsResourceDefault, ttsResourceSeed}
}

// resolveSpeakerCandidates 请求发音人优先，其次配置的默认发音人，大小写不敏感去重
func resolveSpeakerCandidates(requested, fallback string) []string {
	aliases := map[string]string{
		"default":     fallback,
		"interviewer": fallback,
		"en_default":  "en_female_amy_jupiter_bigtts",
	}

	var candidates []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if mapped, ok := aliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	return candidates
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
