package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ent0n29/ducktodo/internal/llm"
	"github.com/ent0n29/ducktodo/internal/settings"
)

type llmConfigRequest struct {
	ID          string         `json:"user_llm_config_id"`
	Provider    string         `json:"llm_provider"`
	APIKey      string         `json:"llm_api_key"`
	APIURL      string         `json:"llm_api_url"`
	ModelName   string         `json:"llm_model_name"`
	Temperature float64        `json:"llm_model_temperature"`
	Thinking    bool           `json:"llm_model_thinking"`
	ModelType   llm.Capability `json:"llm_model_type"`
}

func (req llmConfigRequest) toSettings(userID string) settings.LLMConfig {
	return settings.LLMConfig{
		ID:          strings.TrimSpace(req.ID),
		UserID:      userID,
		Provider:    strings.TrimSpace(req.Provider),
		APIKey:      strings.TrimSpace(req.APIKey),
		APIURL:      strings.TrimSpace(req.APIURL),
		ModelName:   strings.TrimSpace(req.ModelName),
		Temperature: req.Temperature,
		Thinking:    req.Thinking,
		ModelType:   req.ModelType,
	}
}

// redact hides the credential before a config leaves the service.
func redact(cfg settings.LLMConfig) settings.LLMConfig {
	cfg.APIKey = ""
	return cfg
}

func (s *Server) handleListLLMConfigs(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	configs, err := s.svc.Settings.ListLLMConfigs(r.Context(), userID)
	if err != nil {
		log.Printf("list llm configs failed: user=%s err=%v", userID, err)
		respondFailure(w, err)
		return
	}
	out := make([]settings.LLMConfig, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, redact(cfg))
	}
	respondOK(w, "获取LLM配置成功", out)
}

func (s *Server) handleSaveLLMConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req llmConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid llm config body")
		return
	}
	cfg := req.toSettings(userID)
	if _, err := llm.ParseBackend(cfg.Provider); err != nil {
		respondFailure(w, err)
		return
	}
	if cfg.ModelType == 0 {
		cfg.ModelType = llm.CapabilityChat
	}
	if cfg.ID != "" {
		existing, err := s.svc.Settings.GetLLMConfig(r.Context(), cfg.ID)
		if err != nil && !errors.Is(err, settings.ErrNotFound) {
			respondFailure(w, err)
			return
		}
		if err == nil && existing.UserID != userID {
			respondError(w, http.StatusNotFound, "not_found", settings.ErrNotFound.Error())
			return
		}
		if err == nil && cfg.APIKey == "" {
			cfg.APIKey = existing.APIKey
		}
	}

	saved, err := s.svc.Settings.SaveLLMConfig(r.Context(), cfg)
	if err != nil {
		log.Printf("save llm config failed: user=%s err=%v", userID, err)
		respondFailure(w, err)
		return
	}
	respondOK(w, "保存LLM配置成功", redact(saved))
}

// handleTestConnectivity probes either a stored config (by id) or an
// inline one. The probe outcome is reported in the envelope, not as an
// HTTP error.
func (s *Server) handleTestConnectivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req llmConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid llm config body")
		return
	}

	cfg := req.toSettings(userID)
	if cfg.ID != "" && cfg.Provider == "" {
		stored, err := s.svc.Settings.GetLLMConfig(r.Context(), cfg.ID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		if stored.UserID != userID {
			respondError(w, http.StatusNotFound, "not_found", settings.ErrNotFound.Error())
			return
		}
		cfg = stored
	}
	if cfg.ModelType == 0 {
		cfg.ModelType = llm.CapabilityChat
	}

	res := s.svc.LLM.TestConnectivity(r.Context(), cfg.ProviderConfig(), cfg.ModelType)
	message := "连接测试成功"
	if !res.OK {
		message = res.Message
	}
	respondJSON(w, http.StatusOK, envelope{
		Success:   res.OK,
		Code:      http.StatusOK,
		Message:   message,
		Data:      res,
		Timestamp: nowMillis(),
	})
}
