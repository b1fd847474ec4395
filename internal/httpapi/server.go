package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/ducktodo/internal/config"
	"github.com/ent0n29/ducktodo/internal/llm"
	"github.com/ent0n29/ducktodo/internal/observability"
	"github.com/ent0n29/ducktodo/internal/report"
	"github.com/ent0n29/ducktodo/internal/settings"
	"github.com/ent0n29/ducktodo/internal/tasks"
)

// UserHeader carries the caller identity once an upstream gateway has
// validated the token.
const UserHeader = "X-User-ID"

var errNoIdentity = errors.New("missing user identity")

// IdentityResolver extracts the authenticated user id from a request.
type IdentityResolver func(r *http.Request) (string, error)

func HeaderIdentity(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", errNoIdentity
	}
	return id, nil
}

// LLMFactory builds provider adapters; *llm.Factory satisfies it.
type LLMFactory interface {
	NewChat(cfg llm.Config) (llm.ChatModel, error)
	TestConnectivity(ctx context.Context, cfg llm.Config, capability llm.Capability) llm.ConnectivityResult
}

type Services struct {
	Aggregator  *report.Aggregator
	Ranker      *report.Ranker
	Synthesizer *report.Synthesizer
	ToolConfigs *report.ToolConfigService
	Settings    settings.Store
	LLM         LLMFactory
	// StoreMode is reported by the health endpoints.
	StoreMode string
	Identity  IdentityResolver
}

type Server struct {
	cfg      config.Config
	svc      Services
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, svc Services, metrics *observability.Metrics) *Server {
	if svc.Identity == nil {
		svc.Identity = HeaderIdentity
	}
	if strings.TrimSpace(svc.StoreMode) == "" {
		svc.StoreMode = "in-memory"
	}
	return &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observeRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/daily-report", func(r chi.Router) {
		r.Get("/today-completed-tasks", s.handleTodayCompleted)
		r.Get("/upcoming", s.handleUpcoming)
		r.Post("/generate", s.handleGenerateReport)
		r.Post("/tool-config", s.handleCreateToolConfig)
		r.Put("/tool-config", s.handleUpdateToolConfig)
		r.Get("/tool-config", s.handleGetToolConfig)
	})

	r.Route("/v1/llm", func(r chi.Router) {
		r.Get("/configs", s.handleListLLMConfigs)
		r.Post("/configs", s.handleSaveLLMConfig)
		r.Post("/test-connectivity", s.handleTestConnectivity)
		r.Get("/chat/ws", s.handleChatWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.svc.StoreMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.svc.Synthesizer != nil && s.svc.Settings != nil
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	respondJSON(w, status, map[string]any{
		"status":     state,
		"store_mode": s.svc.StoreMode,
	})
}

// observeRequests counts requests by chi route pattern and final status.
func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			// Hijacked for a websocket upgrade.
			status = http.StatusSwitchingProtocols
		}
		s.metrics.ObserveHTTPRequest(route, status)
	})
}

// userID resolves the caller or writes a 401 and returns false.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := s.svc.Identity(r)
	if err != nil || strings.TrimSpace(id) == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "user identity is required")
		return "", false
	}
	return id, true
}

// envelope is the response shape shared by every /v1 endpoint.
type envelope struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type errorData struct {
	Error string `json:"error"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondOK(w http.ResponseWriter, message string, data any) {
	respondJSON(w, http.StatusOK, envelope{
		Success:   true,
		Code:      http.StatusOK,
		Message:   message,
		Data:      data,
		Timestamp: nowMillis(),
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, envelope{
		Success:   false,
		Code:      status,
		Message:   message,
		Data:      errorData{Error: code},
		Timestamp: nowMillis(),
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// respondFailure maps service errors onto HTTP statuses.
func respondFailure(w http.ResponseWriter, err error) {
	var se *llm.StatusError
	switch {
	case errors.As(err, &se):
		if se.Retryable() {
			respondError(w, http.StatusServiceUnavailable, "provider_unavailable", "LLM服务暂时不可用，请稍后重试")
			return
		}
		respondError(w, http.StatusBadGateway, "provider_error", "LLM服务调用失败")
	case llm.IsConfigError(err):
		respondError(w, http.StatusBadRequest, "invalid_llm_config", err.Error())
	case errors.Is(err, settings.ErrNotFound), errors.Is(err, tasks.ErrStoreNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "provider_timeout", "LLM服务响应超时")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "服务内部错误")
	}
}
