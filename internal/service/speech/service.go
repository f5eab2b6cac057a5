package speech

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ai-interviewer/backend/internal/model/speech"
)

// Service 语音服务，对外提供识别与合成能力
type Service struct {
	config    *speech.SpeechConfig
	asrClient *ASRClient
	ttsClient *TTSClient
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig) *Service {
	return &Service{
		config:    config,
		asrClient: NewASRClient(config),
		ttsClient: NewTTSClient(config),
	}
}

// Voice 返回配置的默认发音人
func (s *Service) Voice() string {
	return firstNonEmpty(s.config.TTSVoice, defaultTTSVoice)
}

// Transcribe 识别一段完整音频，返回文本
func (s *Service) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := s.TranscribeAudio(ctx, &speech.ASRRequest{AudioData: audio})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Synthesize 合成文本，返回完整音频字节
func (s *Service) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := s.SynthesizeSpeech(ctx, &speech.TTSRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, err
	}
	return resp.AudioData, nil
}

// TranscribeAudio 语音转文字，返回完整响应
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	req.Format = firstNonEmpty(req.Format, s.config.ASRFormat)
	req.Language = firstNonEmpty(req.Language, s.config.ASRLanguage)
	return s.asrClient.Transcribe(ctx, req)
}

// SynthesizeSpeech 文字转语音，返回完整响应
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	req.Language = firstNonEmpty(req.Language, s.config.TTSLanguage)
	return s.ttsClient.Synthesize(ctx, req)
}

// IsRetryableError 判断错误是否值得重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyAudio) || errors.Is(err, ErrEmptyText) || errors.Is(err, errMissingCredentials) {
		return false
	}
	if isResourceMismatch(err) {
		return false
	}

	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway, websocket.CloseTryAgainLater) {
		return true
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// 握手与读写失败统一视为瞬时错误
	msg := err.Error()
	return strings.Contains(msg, "failed to connect") || strings.Contains(msg, "failed to read")
}
