package speech

import "time"

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine 凭证
	AppID          string `json:"appId"`            // 火山引擎 APP ID
	AccessToken    string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	ConcurrentMode bool   `json:"concurrentMode"`   // ASR并发模式（false为小时版）

	// ASR 配置
	ASRURL        string        `json:"asrUrl"`
	ASRModel      string        `json:"asrModel"`
	ASRLanguage   string        `json:"asrLanguage"`
	ASRFormat     string        `json:"asrFormat"`
	ASRChunkBytes int           `json:"asrChunkBytes"`
	ASRChunkDelay time.Duration `json:"asrChunkDelay"` // 分包发送间隔，模拟实时音频流

	// TTS 配置
	TTSURL      string  `json:"ttsUrl"`
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`
	TTSFormat   string  `json:"ttsFormat"`

	// 通用配置
	Timeout time.Duration `json:"timeout"` // websocket 握手超时
}
