package speech

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string `json:"sessionId"`
	AudioData []byte `json:"-"`
	Format    string `json:"format"`   // wav, mp3, ogg, pcm
	Language  string `json:"language"` // en-US, zh-CN, etc.
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`  // 发音人
	Speed     float32 `json:"speed"`  // 语速倍率 0.5-2.0
	Volume    float32 `json:"volume"` // 音量倍率
	Format    string  `json:"format"` // mp3, pcm, ogg_opus
	Language  string  `json:"language"`
}
