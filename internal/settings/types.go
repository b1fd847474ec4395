package settings

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/ducktodo/internal/llm"
)

var ErrNotFound = errors.New("settings record not found")

// LLMConfig is a user's saved model endpoint.
type LLMConfig struct {
	ID          string         `json:"user_llm_config_id"`
	UserID      string         `json:"user_id"`
	Provider    string         `json:"llm_provider"`
	APIKey      string         `json:"llm_api_key,omitempty"`
	APIURL      string         `json:"llm_api_url,omitempty"`
	ModelName   string         `json:"llm_model_name"`
	Temperature float64        `json:"llm_model_temperature"`
	Thinking    bool           `json:"llm_model_thinking"`
	ModelType   llm.Capability `json:"llm_model_type"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ProviderConfig maps the stored record onto an adapter configuration.
func (c LLMConfig) ProviderConfig() llm.Config {
	return llm.Config{
		Provider:    c.Provider,
		APIKey:      c.APIKey,
		BaseURL:     c.APIURL,
		Model:       c.ModelName,
		Temperature: c.Temperature,
	}
}

// ToolConfig stores opaque per-user tool settings as JSON.
type ToolConfig struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ToolName   string    `json:"tool_name"`
	ConfigJSON string    `json:"config_json"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists LLM and tool configurations.
type Store interface {
	SaveLLMConfig(ctx context.Context, cfg LLMConfig) (LLMConfig, error)
	GetLLMConfig(ctx context.Context, id string) (LLMConfig, error)
	ListLLMConfigs(ctx context.Context, userID string) ([]LLMConfig, error)

	// FindToolConfig returns the user's config for toolName or ErrNotFound.
	FindToolConfig(ctx context.Context, userID, toolName string) (ToolConfig, error)
	SaveToolConfig(ctx context.Context, cfg ToolConfig) (ToolConfig, error)
	Close() error
}
