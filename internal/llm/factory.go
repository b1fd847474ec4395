package llm

import (
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/ducktodo/internal/observability"
)

const (
	DefaultChatModel      = "gpt-3.5-turbo"
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultRerankModel    = "BAAI/bge-reranker-v2-m3"
	DefaultChatMaxTokens  = 2000
)

var defaultBaseURLs = map[Backend]string{
	BackendOpenAI:      "https://api.openai.com/v1",
	BackendSiliconFlow: "https://api.siliconflow.cn/v1",
	BackendBailian:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
}

// FactoryOptions controls adapter construction. Zero values take defaults.
type FactoryOptions struct {
	HTTPClient *http.Client
	// BaseURLs overrides the default endpoint per backend.
	BaseURLs map[Backend]string

	ChatTimeout      time.Duration
	EmbeddingTimeout time.Duration
	RerankTimeout    time.Duration

	// DisableCompatibleStreaming turns ChatStream off for openai-compatible
	// endpoints that cannot serve server-sent events.
	DisableCompatibleStreaming bool

	Metrics *observability.Metrics
}

// Factory builds capability adapters from a provider configuration. The
// underlying HTTP client is shared; adapters themselves are cheap and owned
// by the caller for one logical operation.
type Factory struct {
	opts FactoryOptions
}

func NewFactory(opts FactoryOptions) *Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = 60 * time.Second
	}
	if opts.EmbeddingTimeout <= 0 {
		opts.EmbeddingTimeout = 15 * time.Second
	}
	if opts.RerankTimeout <= 0 {
		opts.RerankTimeout = 20 * time.Second
	}
	return &Factory{opts: opts}
}

type resolvedConfig struct {
	backend Backend
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
}

func (f *Factory) resolve(cfg Config, capability Capability) (resolvedConfig, error) {
	backend, err := ParseBackend(cfg.Provider)
	if err != nil {
		return resolvedConfig{}, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return resolvedConfig{}, &ConfigError{Field: "api_key", Reason: "api key is required"}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		if backend.RequiresBaseURL() {
			return resolvedConfig{}, &ConfigError{Field: "api_url", Reason: "api url is required for openai-compatible providers"}
		}
		baseURL = f.baseURL(backend)
	}

	out := resolvedConfig{
		backend: backend,
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
	}
	switch capability {
	case CapabilityChat:
		if out.model == "" {
			out.model = DefaultChatModel
		}
		if out.timeout <= 0 {
			out.timeout = f.opts.ChatTimeout
		}
	case CapabilityEmbedding:
		if out.model == "" {
			out.model = DefaultEmbeddingModel
		}
		if out.timeout <= 0 {
			out.timeout = f.opts.EmbeddingTimeout
		}
	case CapabilityRerank:
		if out.model == "" {
			out.model = DefaultRerankModel
		}
		if out.timeout <= 0 {
			out.timeout = f.opts.RerankTimeout
		}
	default:
		return resolvedConfig{}, &ConfigError{Field: "model_type", Reason: "unsupported capability " + capability.String()}
	}
	return out, nil
}

func (f *Factory) baseURL(backend Backend) string {
	if v := strings.TrimSpace(f.opts.BaseURLs[backend]); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultBaseURLs[backend]
}

func (f *Factory) NewChat(cfg Config) (ChatModel, error) {
	rc, err := f.resolve(cfg, CapabilityChat)
	if err != nil {
		return nil, err
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultChatMaxTokens
	}
	return &openAIChat{
		backend:     rc.backend,
		client:      newOpenAIClient(rc.baseURL, rc.apiKey, f.opts.HTTPClient),
		model:       rc.model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		timeout:     rc.timeout,
		streaming:   !(rc.backend == BackendCompatible && f.opts.DisableCompatibleStreaming),
		metrics:     f.opts.Metrics,
	}, nil
}

func (f *Factory) NewEmbedder(cfg Config) (Embedder, error) {
	rc, err := f.resolve(cfg, CapabilityEmbedding)
	if err != nil {
		return nil, err
	}
	return f.embedder(rc), nil
}

func (f *Factory) embedder(rc resolvedConfig) *openAIEmbedder {
	return &openAIEmbedder{
		backend: rc.backend,
		client:  newOpenAIClient(rc.baseURL, rc.apiKey, f.opts.HTTPClient),
		model:   rc.model,
		timeout: rc.timeout,
		metrics: f.opts.Metrics,
	}
}

// NewReranker builds a reranker whose embedding fallback targets the same
// endpoint and model name as the rerank configuration.
func (f *Factory) NewReranker(cfg Config) (Reranker, error) {
	rc, err := f.resolve(cfg, CapabilityRerank)
	if err != nil {
		return nil, err
	}
	r := &httpReranker{
		backend: rc.backend,
		url:     rc.baseURL + "/rerank",
		apiKey:  rc.apiKey,
		model:   rc.model,
		client:  f.opts.HTTPClient,
		timeout: rc.timeout,
		metrics: f.opts.Metrics,
	}
	fallbackCfg := rc
	fallbackCfg.timeout = f.opts.EmbeddingTimeout
	if cfg.Timeout > 0 {
		fallbackCfg.timeout = cfg.Timeout
	}
	r.fallback = f.embedder(fallbackCfg)
	return r, nil
}
