package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// 状态型响应的 status 取值
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StatusMessage 状态型响应体
type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondStatus 发送 {"status","message"} 响应
func RespondStatus(w http.ResponseWriter, code int, status, message string) {
	RespondJSON(w, code, StatusMessage{Status: status, Message: message})
}
