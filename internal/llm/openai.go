package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ent0n29/ducktodo/internal/observability"
	"github.com/ent0n29/ducktodo/internal/policy"
)

func newOpenAIClient(baseURL, apiKey string, httpClient *http.Client) openai.Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		// Retry policy belongs to the caller, not the adapter.
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return openai.NewClient(opts...)
}

// openAIChat talks to any backend that serves the chat completions API.
type openAIChat struct {
	backend     Backend
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	streaming   bool
	metrics     *observability.Metrics
}

func (c *openAIChat) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []Message{UserMessage(prompt)})
}

func (c *openAIChat) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, c.params(messages))
	c.metrics.ObserveProviderCall(string(c.backend), CapabilityChat.String(), time.Since(start), err)
	if err != nil {
		return "", providerError(c.backend, "chat completion", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *openAIChat) ChatStream(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error) {
	if !c.streaming {
		return "", ErrStreamingUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages))
	defer stream.Close()

	var out strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	err := stream.Err()
	c.metrics.ObserveProviderCall(string(c.backend), CapabilityChat.String(), time.Since(start), err)
	if err != nil {
		return "", providerError(c.backend, "chat stream", err)
	}
	return out.String(), nil
}

func (c *openAIChat) params(messages []Message) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toOpenAIMessages(messages),
	}
	// zero keeps the provider default
	if c.temperature > 0 {
		p.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		p.MaxTokens = openai.Int(int64(c.maxTokens))
	}
	return p
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

type openAIEmbedder struct {
	backend Backend
	client  openai.Client
	model   string
	timeout time.Duration
	metrics *observability.Metrics
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := e.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in one request, preserving input order.
func (e *openAIEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	return e.embed(ctx, openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
}

func (e *openAIEmbedder) embed(ctx context.Context, input openai.EmbeddingNewParamsInputUnion, want int) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          input,
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	e.metrics.ObserveProviderCall(string(e.backend), CapabilityEmbedding.String(), time.Since(start), err)
	if err != nil {
		return nil, providerError(e.backend, "embedding", err)
	}
	if len(resp.Data) != want {
		return nil, fmt.Errorf("%s embedding: got %d vectors, want %d", e.backend, len(resp.Data), want)
	}
	out := make([][]float64, want)
	for i, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= want {
			idx = i
		}
		out[idx] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("%s embedding: empty vector at %d", e.backend, i)
		}
	}
	return out, nil
}

// providerError converts SDK API errors into StatusError so callers can
// classify them without importing the SDK.
func providerError(backend Backend, op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := policy.Redact(strings.TrimSpace(apiErr.Message))
		if len(body) > 4<<10 {
			body = body[:4<<10]
		}
		return fmt.Errorf("%s: %w", op, &StatusError{Provider: backend, StatusCode: apiErr.StatusCode, Body: body})
	}
	return fmt.Errorf("%s %s: %w", backend, op, err)
}
