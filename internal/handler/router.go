package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	interviewHandler "github.com/zhouzirui/ai-interviewer/backend/internal/handler/interview"
	resumeHandler "github.com/zhouzirui/ai-interviewer/backend/internal/handler/resume"
	middlewarePkg "github.com/zhouzirui/ai-interviewer/backend/internal/middleware"
	resumeModel "github.com/zhouzirui/ai-interviewer/backend/internal/model/resume"
	interviewService "github.com/zhouzirui/ai-interviewer/backend/internal/service/interview"
	"github.com/zhouzirui/ai-interviewer/backend/pkg/utils"
)

// Dependencies groups everything the HTTP surface needs.
type Dependencies struct {
	Resume         *resumeHandler.Handler
	Interview      *interviewHandler.Handler
	ResumeStore    *resumeModel.Store
	Registry       *interviewService.Registry
	Metrics        http.Handler
	AllowedOrigins []string
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status           string `json:"status"`
	InterviewEnabled bool   `json:"interviewEnabled"`
	ActiveSessions   int    `json:"activeSessions"`
	ResumeLoaded     bool   `json:"resumeLoaded"`
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if deps.Interview != nil {
			resp.InterviewEnabled = deps.Interview.Available()
		}
		if deps.Registry != nil {
			resp.ActiveSessions = deps.Registry.Len()
		}
		if deps.ResumeStore != nil {
			resp.ResumeLoaded = deps.ResumeStore.Get() != ""
		}
		utils.RespondJSON(w, http.StatusOK, resp)
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	if deps.Resume != nil {
		deps.Resume.RegisterRoutes(r)
	}

	if deps.Interview != nil {
		deps.Interview.RegisterRoutes(r)
	} else {
		r.Get("/ws/interview", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondError(w, http.StatusServiceUnavailable, "interview session unavailable")
		})
	}

	return r
}
