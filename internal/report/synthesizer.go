package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/ducktodo/internal/llm"
	"github.com/ent0n29/ducktodo/internal/observability"
	"github.com/ent0n29/ducktodo/internal/report/prompts"
	"github.com/ent0n29/ducktodo/internal/settings"
	"github.com/ent0n29/ducktodo/internal/tasks"
)

const (
	MsgConfigUnavailable = "LLM配置不可用，无法生成日报"
	MsgConfigNotFound    = "LLM配置不存在，无法生成日报"
)

// Report always carries all three sections; failed or skipped sections are
// empty strings.
type Report struct {
	TodayFinished string `json:"today_finish_tasks_report"`
	TomorrowTodo  string `json:"tomorrow_todo_tasks_report"`
	Think         string `json:"think_report"`
}

type GenerateRequest struct {
	UserID      string
	LLMConfigID string
	// TodayFinished, when non-nil, is used as-is instead of aggregating today.
	TodayFinished []TodoEntry
}

// LLMConfigSource resolves stored LLM configurations.
type LLMConfigSource interface {
	GetLLMConfig(ctx context.Context, id string) (settings.LLMConfig, error)
}

// ChatBuilder constructs chat adapters; *llm.Factory satisfies it.
type ChatBuilder interface {
	NewChat(cfg llm.Config) (llm.ChatModel, error)
}

type SynthesizerOptions struct {
	TodoLimit     int
	TodoDaysAhead int
	Metrics       *observability.Metrics
}

// Synthesizer turns a user's task activity into a three-part daily report.
type Synthesizer struct {
	configs    LLMConfigSource
	chats      ChatBuilder
	aggregator *Aggregator
	ranker     *Ranker
	todoLimit  int
	daysAhead  int
	metrics    *observability.Metrics
}

func NewSynthesizer(configs LLMConfigSource, chats ChatBuilder, aggregator *Aggregator, ranker *Ranker, opts SynthesizerOptions) *Synthesizer {
	if opts.TodoLimit <= 0 {
		opts.TodoLimit = DefaultTodoLimit
	}
	if opts.TodoDaysAhead < 0 {
		opts.TodoDaysAhead = DefaultTodoDaysAhead
	}
	return &Synthesizer{
		configs:    configs,
		chats:      chats,
		aggregator: aggregator,
		ranker:     ranker,
		todoLimit:  opts.TodoLimit,
		daysAhead:  opts.TodoDaysAhead,
		metrics:    opts.Metrics,
	}
}

// Generate builds the report. Configuration problems produce a report with
// only Think set and a nil error; storage and provider failures abort with
// an error and no partial narratives.
func (s *Synthesizer) Generate(ctx context.Context, req GenerateRequest) (Report, error) {
	start := time.Now()
	rep, outcome, err := s.generate(ctx, req)
	s.metrics.ObserveReport(outcome, time.Since(start))
	if err != nil {
		log.Printf("daily report generation failed for user %s: %v", req.UserID, err)
		return Report{}, err
	}
	return rep, nil
}

func (s *Synthesizer) generate(ctx context.Context, req GenerateRequest) (Report, string, error) {
	chat, notice, err := s.resolveChat(ctx, req)
	if err != nil {
		return Report{}, "error", err
	}
	if notice != "" {
		return Report{Think: notice}, "unavailable", nil
	}

	today := req.TodayFinished
	if today == nil {
		entries, err := s.aggregator.AggregateCompleted(ctx, req.UserID, tasks.Today())
		if err != nil {
			return Report{}, "error", fmt.Errorf("aggregate completed tasks: %w", err)
		}
		today = ToTodoEntries(entries)
	}
	upcoming, err := s.ranker.SelectUpcoming(ctx, req.UserID, s.todoLimit, s.daysAhead)
	if err != nil {
		return Report{}, "error", fmt.Errorf("select upcoming tasks: %w", err)
	}

	todayJSON, err := encodeEntries(today)
	if err != nil {
		return Report{}, "error", err
	}
	upcomingJSON, err := encodeEntries(upcoming)
	if err != nil {
		return Report{}, "error", err
	}

	var rep Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := chat.Generate(gctx, prompts.Today(todayJSON))
		if err != nil {
			return fmt.Errorf("today narrative: %w", err)
		}
		rep.TodayFinished = strings.TrimSpace(out)
		return nil
	})
	g.Go(func() error {
		out, err := chat.Generate(gctx, prompts.Tomorrow(upcomingJSON))
		if err != nil {
			return fmt.Errorf("tomorrow narrative: %w", err)
		}
		rep.TomorrowTodo = strings.TrimSpace(out)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, "error", err
	}

	think, err := chat.Generate(ctx, prompts.Think(rep.TodayFinished, rep.TomorrowTodo))
	if err != nil {
		return Report{}, "error", fmt.Errorf("reflection narrative: %w", err)
	}
	rep.Think = strings.TrimSpace(think)
	return rep, "ok", nil
}

// resolveChat returns a chat adapter, or a user-facing notice when the
// configuration cannot serve a report.
func (s *Synthesizer) resolveChat(ctx context.Context, req GenerateRequest) (llm.ChatModel, string, error) {
	id := strings.TrimSpace(req.LLMConfigID)
	if id == "" {
		return nil, MsgConfigUnavailable, nil
	}
	cfg, err := s.configs.GetLLMConfig(ctx, id)
	if errors.Is(err, settings.ErrNotFound) {
		return nil, MsgConfigNotFound, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load llm config: %w", err)
	}
	if cfg.UserID != "" && cfg.UserID != req.UserID {
		return nil, MsgConfigNotFound, nil
	}
	if cfg.ModelType != llm.CapabilityChat {
		return nil, MsgConfigUnavailable + "：需要对话模型配置", nil
	}
	chat, err := s.chats.NewChat(cfg.ProviderConfig())
	if llm.IsConfigError(err) {
		log.Printf("daily report: llm config %s unusable: %v", cfg.ID, err)
		return nil, MsgConfigUnavailable, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("build chat model: %w", err)
	}
	return chat, "", nil
}

// encodeEntries renders entries as compact JSON; an empty list is "[]".
func encodeEntries(entries []TodoEntry) (string, error) {
	if len(entries) == 0 {
		return "[]", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return "", fmt.Errorf("encode task list: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
