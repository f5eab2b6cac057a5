package speech

import (
	"errors"
	"net/http"
	"strings"

	speechmodel "github.com/zhouzirui/ai-interviewer/backend/internal/model/speech"
)

var errMissingCredentials = errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", errors.New("火山引擎语音配置未初始化")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", errMissingCredentials
	}
	return appID, token, nil
}

// authHeader 构建握手所需的鉴权请求头
func authHeader(appID, token, resourceID, connectID string) http.Header {
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header
}
