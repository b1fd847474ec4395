package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/ducktodo/internal/observability"
	"github.com/ent0n29/ducktodo/internal/policy"
)

type rerankState int

const (
	rerankPrimaryAPI rerankState = iota
	rerankEmbeddingFallback
)

// batchEmbedder is implemented by embedders that can embed several texts per request.
type batchEmbedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}

// httpReranker calls POST {base}/rerank and falls back to embedding
// similarity when the endpoint fails.
type httpReranker struct {
	backend Backend
	url     string
	apiKey  string
	model   string
	client  *http.Client
	timeout time.Duration
	metrics *observability.Metrics

	// nil when no embedding client is available
	fallback Embedder
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankItem struct {
	Index          *int     `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
	Score          *float64 `json:"score"`
}

func (it rerankItem) score() float64 {
	if it.RelevanceScore != nil {
		return *it.RelevanceScore
	}
	if it.Score != nil {
		return *it.Score
	}
	return 0
}

type rerankResponse struct {
	Results json.RawMessage `json:"results"`
	Data    json.RawMessage `json:"data"`
}

var errEmptyRerankQuery = errors.New("rerank query must not be empty")

func (r *httpReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, errEmptyRerankQuery
	}

	state := rerankPrimaryAPI
	var primaryErr error
	for {
		switch state {
		case rerankPrimaryAPI:
			results, err := r.callAPI(ctx, query, documents)
			if err == nil {
				return rankResults(results, topN), nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			primaryErr = err
			log.Printf("rerank api failed for %s, falling back to embeddings: %v", r.backend, err)
			state = rerankEmbeddingFallback
		case rerankEmbeddingFallback:
			if r.fallback == nil {
				return nil, fmt.Errorf("rerank api failed and embedding fallback is unavailable: %w", primaryErr)
			}
			r.metrics.ObserveRerankFallback(string(r.backend))
			results, err := r.embeddingScores(ctx, query, documents)
			if err != nil {
				return nil, fmt.Errorf("rerank embedding fallback: %w (primary: %v)", err, primaryErr)
			}
			return rankResults(results, topN), nil
		}
	}
}

func (r *httpReranker) callAPI(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	start := time.Now()
	results, err := r.do(httpReq, documents)
	r.metrics.ObserveProviderCall(string(r.backend), CapabilityRerank.String(), time.Since(start), err)
	return results, err
}

func (r *httpReranker) do(httpReq *http.Request, documents []string) ([]RerankResult, error) {
	res, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &StatusError{Provider: r.backend, StatusCode: res.StatusCode, Body: policy.Redact(strings.TrimSpace(string(body)))}
	}

	var parsed rerankResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	results, err := parseRerankResponse(parsed, documents)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("rerank response contained no usable scores")
	}
	return results, nil
}

// parseRerankResponse accepts {"results":[{index, relevance_score|score}]} or
// {"data":[...]} where data entries are objects or bare scores and the index
// defaults to the entry position. Out-of-range indices are skipped.
func parseRerankResponse(resp rerankResponse, documents []string) ([]RerankResult, error) {
	out := make([]RerankResult, 0, len(documents))
	add := func(index int, score float64) {
		if index < 0 || index >= len(documents) {
			return
		}
		out = append(out, RerankResult{Document: documents[index], Score: score, Index: index})
	}

	switch {
	case len(resp.Results) > 0 && string(resp.Results) != "null":
		var items []rerankItem
		if err := json.Unmarshal(resp.Results, &items); err != nil {
			return nil, fmt.Errorf("decode rerank results: %w", err)
		}
		for _, it := range items {
			index := 0
			if it.Index != nil {
				index = *it.Index
			}
			add(index, it.score())
		}
	case len(resp.Data) > 0 && string(resp.Data) != "null":
		var raw []json.RawMessage
		if err := json.Unmarshal(resp.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode rerank data: %w", err)
		}
		for i, entry := range raw {
			var bare float64
			if err := json.Unmarshal(entry, &bare); err == nil {
				add(i, bare)
				continue
			}
			var it rerankItem
			if err := json.Unmarshal(entry, &it); err != nil {
				add(i, 0)
				continue
			}
			index := i
			if it.Index != nil {
				index = *it.Index
			}
			add(index, it.score())
		}
	default:
		return nil, errors.New("unexpected rerank response format")
	}
	return out, nil
}

func (r *httpReranker) embeddingScores(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	queryVec, err := r.fallback.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var docVecs [][]float64
	if batch, ok := r.fallback.(batchEmbedder); ok {
		docVecs, err = batch.EmbedMany(ctx, documents)
		if err != nil {
			return nil, fmt.Errorf("embed documents: %w", err)
		}
	} else {
		docVecs = make([][]float64, 0, len(documents))
		for i, doc := range documents {
			vec, err := r.fallback.Embed(ctx, doc)
			if err != nil {
				return nil, fmt.Errorf("embed document %d: %w", i, err)
			}
			docVecs = append(docVecs, vec)
		}
	}

	out := make([]RerankResult, len(documents))
	for i, doc := range documents {
		out[i] = RerankResult{Document: doc, Score: cosineSimilarity(queryVec, docVecs[i]), Index: i}
	}
	return out, nil
}

// rankResults sorts by score descending and keeps the first topN when topN > 0.
func rankResults(results []RerankResult, topN int) []RerankResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}
