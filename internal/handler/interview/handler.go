package interview

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	interviewservice "github.com/zhouzirui/ai-interviewer/backend/internal/service/interview"
	"github.com/zhouzirui/ai-interviewer/backend/pkg/utils"
)

const (
	defaultMaxChunkBytes = 10 << 20
	defaultPingInterval  = 54 * time.Second
	closeWriteTimeout    = time.Second
)

// Config 会话网关配置
type Config struct {
	Session       interviewservice.Options
	MaxChunkBytes int64
	PingInterval  time.Duration
}

// Handler 面试会话 WebSocket 网关
type Handler struct {
	transcriber interviewservice.Transcriber
	responder   interviewservice.Responder
	synthesizer interviewservice.Synthesizer
	registry    *interviewservice.Registry
	cfg         Config
	upgrader    websocket.Upgrader
}

// New 创建会话网关；任一协作方缺失时路由返回 503
func New(transcriber interviewservice.Transcriber, responder interviewservice.Responder, synthesizer interviewservice.Synthesizer, registry *interviewservice.Registry, cfg Config) *Handler {
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = defaultMaxChunkBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if registry == nil {
		registry = interviewservice.NewRegistry()
	}

	return &Handler{
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		registry:    registry,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册会话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/interview", h.handleInterview)
}

// Available 表示识别、推理、合成三方是否齐备
func (h *Handler) Available() bool {
	return h.transcriber != nil && h.responder != nil && h.synthesizer != nil
}

// handleInterview 每个连接运行一个会话，任何结束路径都会释放连接
func (h *Handler) handleInterview(w http.ResponseWriter, r *http.Request) {
	if !h.Available() {
		utils.RespondError(w, http.StatusServiceUnavailable, "interview session unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(h.cfg.MaxChunkBytes)

	opts := h.cfg.Session
	session := interviewservice.NewSession(conn, h.transcriber, h.responder, h.synthesizer, opts)

	// 会话上下文不继承请求上下文，由注册表统一取消
	ctx := h.registry.Add(context.Background(), session.ID(), r.RemoteAddr)
	defer h.registry.Remove(session.ID())

	// 取消时关闭连接以解除阻塞的读取
	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClose()

	readTimeout := opts.ReadTimeout
	conn.SetPongHandler(func(string) error {
		if readTimeout > 0 {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		return nil
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go h.pingLoop(pingCtx, conn)

	log.Printf("[gateway] session %s connected from %s", session.ID(), r.RemoteAddr)
	started := time.Now()

	runErr := session.Run(ctx)
	stopPing()

	logOutcome(session.ID(), runErr, time.Since(started))

	code, reason, ok := closeStatus(runErr)
	if !ok || ctx.Err() != nil {
		return
	}
	deadline := time.Now().Add(closeWriteTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("[gateway] session %s close frame not sent: %v", session.ID(), err)
	}
}

// pingLoop 定期发送ping；WriteControl 可与会话写入并发调用
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// closeStatus 将会话结果映射为关闭码；连接已损坏时不再发送关闭帧
func closeStatus(err error) (code int, reason string, ok bool) {
	var transportErr *interviewservice.TransportError

	switch {
	case err == nil:
		return websocket.CloseNormalClosure, "", true
	case errors.Is(err, interviewservice.ErrMalformedFrame):
		return websocket.CloseUnsupportedData, "binary audio frames only", true
	case errors.As(err, &transportErr):
		return 0, "", false
	default:
		return websocket.CloseInternalServerErr, "interview session failed", true
	}
}

func logOutcome(id string, err error, elapsed time.Duration) {
	var (
		inferenceErr *interviewservice.InferenceError
		synthesisErr *interviewservice.SynthesisError
		transportErr *interviewservice.TransportError
		criticalErr  *interviewservice.CriticalError
	)

	switch {
	case err == nil:
		log.Printf("[gateway] session %s closed after %s", id, elapsed.Round(time.Millisecond))
	case errors.As(err, &criticalErr):
		log.Printf("[gateway] session %s crashed: %v\n%s", id, criticalErr, criticalErr.Stack)
	case errors.As(err, &inferenceErr):
		log.Printf("[gateway] session %s ended by inference failure: %v", id, err)
	case errors.As(err, &synthesisErr):
		log.Printf("[gateway] session %s ended by synthesis failure: %v", id, err)
	case errors.As(err, &transportErr):
		log.Printf("[gateway] session %s transport closed: %v", id, err)
	default:
		log.Printf("[gateway] session %s ended: %v", id, err)
	}
}
