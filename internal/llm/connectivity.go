package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Probe inputs sent by TestConnectivity.
const (
	probeGreeting    = "你好"
	probeEmbedText   = "测试文本"
	probeRerankQuery = "测试查询"
	probeRerankTopN  = 2
)

var probeRerankDocuments = []string{
	"这是第一个测试文档",
	"这是第二个测试文档",
	"这是第三个测试文档",
}

// ConnectivityResult reports a probe outcome. Message is empty on success.
type ConnectivityResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func probeFailed(format string, args ...any) ConnectivityResult {
	return ConnectivityResult{OK: false, Message: fmt.Sprintf(format, args...)}
}

// TestConnectivity builds an adapter for the capability and issues one small
// request against it. Failures come back as a message, never as an error.
func (f *Factory) TestConnectivity(ctx context.Context, cfg Config, capability Capability) ConnectivityResult {
	var res ConnectivityResult
	switch capability {
	case CapabilityChat:
		res = f.probeChat(ctx, cfg)
	case CapabilityEmbedding:
		res = f.probeEmbedding(ctx, cfg)
	case CapabilityRerank:
		res = f.probeRerank(ctx, cfg)
	default:
		res = probeFailed("不支持的模型类型: %d", int(capability))
	}
	if res.OK {
		log.Printf("llm connectivity ok: provider=%s model=%s type=%s", cfg.Provider, cfg.Model, capability)
	} else {
		log.Printf("llm connectivity failed: provider=%s model=%s type=%s: %s", cfg.Provider, cfg.Model, capability, res.Message)
	}
	return res
}

func (f *Factory) probeChat(ctx context.Context, cfg Config) ConnectivityResult {
	chat, err := f.NewChat(cfg)
	if err != nil {
		return probeFailed("LLM 未初始化，无法进行测试: %v", err)
	}
	reply, err := chat.Chat(ctx, []Message{UserMessage(probeGreeting)})
	if err != nil {
		return probeFailed("Chat 测试失败: %v", err)
	}
	if strings.TrimSpace(reply) == "" {
		return probeFailed("返回结果为空")
	}
	return ConnectivityResult{OK: true}
}

func (f *Factory) probeEmbedding(ctx context.Context, cfg Config) ConnectivityResult {
	embedder, err := f.NewEmbedder(cfg)
	if err != nil {
		return probeFailed("LLM 未初始化，无法进行测试: %v", err)
	}
	vec, err := embedder.Embed(ctx, probeEmbedText)
	if err != nil {
		return probeFailed("Embedding 测试失败: %v", err)
	}
	if len(vec) == 0 {
		return probeFailed("返回结果为空或格式错误")
	}
	return ConnectivityResult{OK: true}
}

func (f *Factory) probeRerank(ctx context.Context, cfg Config) ConnectivityResult {
	reranker, err := f.NewReranker(cfg)
	if err != nil {
		return probeFailed("LLM 未初始化，无法进行测试: %v", err)
	}
	results, err := reranker.Rerank(ctx, probeRerankQuery, probeRerankDocuments, probeRerankTopN)
	if err != nil {
		return probeFailed("Rerank 测试失败: %v", err)
	}
	if len(results) == 0 {
		return probeFailed("返回结果为空或格式错误")
	}
	return ConnectivityResult{OK: true}
}
