package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/ducktodo/internal/settings"
)

// ToolName keys the daily report entry in the tool configuration store.
const ToolName = "daily_report"

// ToolSettings is the JSON payload stored for the daily report tool.
type ToolSettings struct {
	LLMConfigID  string `json:"llm_config_id"`
	LLMModelName string `json:"llm_model_name"`
	LLMProvider  string `json:"llm_provider"`
}

// ToolConfigStore is the subset of settings.Store the service uses.
type ToolConfigStore interface {
	GetLLMConfig(ctx context.Context, id string) (settings.LLMConfig, error)
	FindToolConfig(ctx context.Context, userID, toolName string) (settings.ToolConfig, error)
	SaveToolConfig(ctx context.Context, cfg settings.ToolConfig) (settings.ToolConfig, error)
}

// ToolConfigService binds a user's daily report to one of their LLM configs.
type ToolConfigService struct {
	store ToolConfigStore
}

func NewToolConfigService(store ToolConfigStore) *ToolConfigService {
	return &ToolConfigService{store: store}
}

// Create stores the binding, overwriting an existing one. It returns the
// record id.
func (s *ToolConfigService) Create(ctx context.Context, userID, llmConfigID string) (string, error) {
	payload, err := s.payload(ctx, userID, llmConfigID)
	if err != nil {
		return "", err
	}
	rec := settings.ToolConfig{UserID: userID, ToolName: ToolName, ConfigJSON: payload}
	existing, err := s.store.FindToolConfig(ctx, userID, ToolName)
	switch {
	case err == nil:
		rec.ID = existing.ID
	case errors.Is(err, settings.ErrNotFound):
		rec.ID = uuid.NewString()
	default:
		return "", fmt.Errorf("find tool config: %w", err)
	}
	saved, err := s.store.SaveToolConfig(ctx, rec)
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}

// Update rebinds an existing record and fails with settings.ErrNotFound
// when the user has none.
func (s *ToolConfigService) Update(ctx context.Context, userID, llmConfigID string) (string, error) {
	existing, err := s.store.FindToolConfig(ctx, userID, ToolName)
	if err != nil {
		return "", err
	}
	payload, err := s.payload(ctx, userID, llmConfigID)
	if err != nil {
		return "", err
	}
	existing.ConfigJSON = payload
	saved, err := s.store.SaveToolConfig(ctx, existing)
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}

func (s *ToolConfigService) Get(ctx context.Context, userID string) (settings.ToolConfig, error) {
	return s.store.FindToolConfig(ctx, userID, ToolName)
}

// Settings decodes the stored payload.
func (s *ToolConfigService) Settings(ctx context.Context, userID string) (ToolSettings, error) {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return ToolSettings{}, err
	}
	var out ToolSettings
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &out); err != nil {
		return ToolSettings{}, fmt.Errorf("decode %s config: %w", ToolName, err)
	}
	return out, nil
}

func (s *ToolConfigService) payload(ctx context.Context, userID, llmConfigID string) (string, error) {
	llmConfigID = strings.TrimSpace(llmConfigID)
	if llmConfigID == "" {
		return "", settings.ErrNotFound
	}
	cfg, err := s.store.GetLLMConfig(ctx, llmConfigID)
	if err != nil {
		return "", err
	}
	if cfg.UserID != "" && cfg.UserID != userID {
		return "", settings.ErrNotFound
	}
	raw, err := json.Marshal(ToolSettings{
		LLMConfigID:  cfg.ID,
		LLMModelName: cfg.ModelName,
		LLMProvider:  cfg.Provider,
	})
	if err != nil {
		return "", fmt.Errorf("encode %s config: %w", ToolName, err)
	}
	return string(raw), nil
}
