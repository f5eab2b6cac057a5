package resume

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	resumemodel "github.com/zhouzirui/ai-interviewer/backend/internal/model/resume"
	resumeservice "github.com/zhouzirui/ai-interviewer/backend/internal/service/resume"
	"github.com/zhouzirui/ai-interviewer/backend/pkg/utils"
)

const formFileField = "file"

// Handler 简历上传与清除处理器
type Handler struct {
	store     *resumemodel.Store
	extractor resumeservice.Extractor
	maxBytes  int64
}

// New 创建简历处理器
func New(store *resumemodel.Store, extractor resumeservice.Extractor, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = resumeservice.DefaultMaxBytes
	}
	return &Handler{
		store:     store,
		extractor: extractor,
		maxBytes:  maxBytes,
	}
}

// RegisterRoutes 注册简历相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/upload-resume", h.handleUpload)
	r.Post("/delete-resume", h.handleDelete)
	r.Get("/resume/status", h.handleStatus)
}

// StatusResponse 简历加载状态
type StatusResponse struct {
	Loaded     bool       `json:"loaded"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	Characters int        `json:"characters"`
}

// handleUpload 解析上传的简历并替换当前上下文；解析失败不影响已有上下文
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	// multipart 额外开销预留 1MiB
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)

	file, header, err := r.FormFile(formFileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondStatus(w, http.StatusRequestEntityTooLarge, utils.StatusError, "resume exceeds upload limit")
			return
		}
		utils.RespondStatus(w, http.StatusBadRequest, utils.StatusError, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		utils.RespondStatus(w, http.StatusRequestEntityTooLarge, utils.StatusError, "resume exceeds upload limit")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondStatus(w, http.StatusBadRequest, utils.StatusError, "failed to read uploaded file")
		return
	}

	text, err := h.extractor.Extract(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Printf("[resume] extraction failed for %q: %v", header.Filename, err)
		utils.RespondStatus(w, http.StatusOK, utils.StatusError, err.Error())
		return
	}

	h.store.Set(text)
	log.Printf("[resume] loaded %q, characters=%d", header.Filename, utf8.RuneCountInString(text))
	utils.RespondStatus(w, http.StatusOK, utils.StatusSuccess, "Resume processed successfully!")
}

// handleDelete 清空简历上下文
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	log.Printf("[resume] context cleared")
	utils.RespondStatus(w, http.StatusOK, utils.StatusSuccess, "Resume context cleared")
}

// handleStatus 返回简历是否已加载，不暴露正文
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	resp := StatusResponse{
		Loaded:     snap.Text != "",
		Characters: utf8.RuneCountInString(snap.Text),
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		resp.UpdatedAt = &updated
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
