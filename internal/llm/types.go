package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/ducktodo/internal/reliability"
)

// Capability is the kind of model a configuration points at.
type Capability int

const (
	CapabilityChat      Capability = 1
	CapabilityEmbedding Capability = 2
	CapabilityRerank    Capability = 3
)

func (c Capability) String() string {
	switch c {
	case CapabilityChat:
		return "chat"
	case CapabilityEmbedding:
		return "embedding"
	case CapabilityRerank:
		return "rerank"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Backend is the closed set of supported provider families.
type Backend string

const (
	BackendOpenAI      Backend = "openai"
	BackendSiliconFlow Backend = "siliconflow"
	BackendBailian     Backend = "bailian"
	BackendCompatible  Backend = "openai-compatible"
)

// ParseBackend resolves a provider name. Unknown names are a configuration
// error and are never mapped to a default.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return BackendOpenAI, nil
	case "siliconflow":
		return BackendSiliconFlow, nil
	case "bailian", "dashscope":
		return BackendBailian, nil
	case "openai-compatible", "openai_compatible", "compatible":
		return BackendCompatible, nil
	case "":
		return "", &ConfigError{Field: "provider", Reason: "provider is required"}
	default:
		return "", &ConfigError{Field: "provider", Reason: fmt.Sprintf("unsupported provider %q", name)}
	}
}

// RequiresBaseURL reports whether the backend has no default endpoint.
func (b Backend) RequiresBaseURL() bool {
	return b == BackendCompatible
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Generate(ctx context.Context, prompt string) (string, error)
	// ChatStream returns ErrStreamingUnsupported when the backend cannot stream.
	ChatStream(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type RerankResult struct {
	Document string  `json:"document"`
	Score    float64 `json:"score"`
	Index    int     `json:"index"`
}

type Reranker interface {
	// Rerank orders documents by relevance to query. topN <= 0 keeps all.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
}

// Config describes one model endpoint.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

var ErrStreamingUnsupported = errors.New("streaming not supported by provider")

// ConfigError marks a provider that cannot be constructed from its configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "llm config: " + e.Reason
	}
	return fmt.Sprintf("llm config %s: %s", e.Field, e.Reason)
}

// IsConfigError reports whether err stems from a bad provider configuration.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// StatusError is an upstream HTTP failure.
type StatusError struct {
	Provider   Backend
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s http status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}
