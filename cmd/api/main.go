package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/ai-interviewer/backend/internal/config"
	"github.com/zhouzirui/ai-interviewer/backend/internal/handler"
	interviewHandler "github.com/zhouzirui/ai-interviewer/backend/internal/handler/interview"
	resumeHandler "github.com/zhouzirui/ai-interviewer/backend/internal/handler/resume"
	"github.com/zhouzirui/ai-interviewer/backend/internal/model/resume"
	"github.com/zhouzirui/ai-interviewer/backend/internal/service/ai"
	"github.com/zhouzirui/ai-interviewer/backend/internal/service/interview"
	resumeService "github.com/zhouzirui/ai-interviewer/backend/internal/service/resume"
	"github.com/zhouzirui/ai-interviewer/backend/internal/service/speech"
	"github.com/zhouzirui/ai-interviewer/backend/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var metricsHandler http.Handler
	var telemetryProvider *telemetry.Provider
	if cfg.Telemetry.Enabled {
		telemetryProvider, err = telemetry.Setup(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Printf("warning: failed to initialize telemetry: %v", err)
		} else {
			metricsHandler = telemetryProvider.Handler()
		}
	}

	resumeStore := resume.NewStore()

	// Initialize AI service
	var responder interview.Responder
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to create chat model: %v", err)
		} else if aiService, err := ai.NewService(ctx, chatModel, resumeStore, ai.WithTemperature(cfg.AI.Temperature)); err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
		} else {
			responder = interview.RetryResponder(aiService, interview.RetryPolicy{MaxRetries: cfg.Interview.LLMRetries})
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	// Initialize Speech service
	var (
		transcriber interview.Transcriber
		synthesizer interview.Synthesizer
		voice       string
	)
	if cfg.Speech.Enabled {
		speechService := speech.NewService(cfg.Speech.ToModel())
		transcriber = interview.RetryTranscriber(speechService, interview.RetryPolicy{
			MaxRetries: cfg.Interview.STTRetries,
			Retryable:  speech.IsRetryableError,
		})
		synthesizer = interview.RetrySynthesizer(speechService, interview.RetryPolicy{
			MaxRetries: cfg.Interview.TTSRetries,
			Retryable:  speech.IsRetryableError,
		})
		voice = speechService.Voice()
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	registry := interview.NewRegistry()

	sessionOpts := interview.DefaultOptions()
	sessionOpts.Voice = voice
	sessionOpts.ReadTimeout = cfg.Interview.ReadTimeout
	sessionOpts.TranscribeTimeout = cfg.Interview.STTTimeout
	sessionOpts.RespondTimeout = cfg.Interview.LLMTimeout
	sessionOpts.SynthesizeTimeout = cfg.Interview.TTSTimeout
	sessionOpts.DiscardDegraded = cfg.Interview.DiscardDegraded

	router := handler.NewRouter(handler.Dependencies{
		Resume: resumeHandler.New(resumeStore, resumeService.NewPDFExtractor(), cfg.Resume.MaxBytes),
		Interview: interviewHandler.New(transcriber, responder, synthesizer, registry, interviewHandler.Config{
			Session:       sessionOpts,
			MaxChunkBytes: cfg.Interview.MaxChunkBytes,
		}),
		ResumeStore:    resumeStore,
		Registry:       registry,
		Metrics:        metricsHandler,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router, registry)

	if telemetryProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("warning: telemetry shutdown: %v", err)
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, registry *interview.Registry) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// 被劫持的 websocket 连接不受 Shutdown 管理，需单独结束
	srv.RegisterOnShutdown(registry.CloseAll)

	log.Printf("AI interviewer backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
