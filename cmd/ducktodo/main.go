package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/ducktodo/internal/config"
	"github.com/ent0n29/ducktodo/internal/httpapi"
	"github.com/ent0n29/ducktodo/internal/llm"
	"github.com/ent0n29/ducktodo/internal/observability"
	"github.com/ent0n29/ducktodo/internal/reliability"
	"github.com/ent0n29/ducktodo/internal/report"
	"github.com/ent0n29/ducktodo/internal/settings"
	"github.com/ent0n29/ducktodo/internal/tasks"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv load failed: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	var taskStore tasks.Store
	if err := connect(ctx, "task", func(ctx context.Context) (err error) {
		taskStore, err = tasks.NewStore(ctx, cfg.DatabaseURL)
		return err
	}); err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	defer taskStore.Close()

	var settingsStore settings.Store
	if err := connect(ctx, "settings", func(ctx context.Context) (err error) {
		settingsStore, err = settings.NewStore(ctx, cfg.DatabaseURL)
		return err
	}); err != nil {
		log.Fatalf("settings store init failed: %v", err)
	}
	defer settingsStore.Close()

	storeMode := "in-memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}
	log.Printf("store mode: %s", storeMode)

	factory := llm.NewFactory(llm.FactoryOptions{
		BaseURLs: map[llm.Backend]string{
			llm.BackendOpenAI:      cfg.OpenAIBaseURL,
			llm.BackendSiliconFlow: cfg.SiliconFlowBaseURL,
			llm.BackendBailian:     cfg.BailianBaseURL,
		},
		ChatTimeout:                cfg.LLMChatTimeout,
		EmbeddingTimeout:           cfg.LLMEmbeddingTimeout,
		RerankTimeout:              cfg.LLMRerankTimeout,
		DisableCompatibleStreaming: !cfg.LLMCompatibleStreaming,
		Metrics:                    metrics,
	})

	aggregator := report.NewAggregator(taskStore)
	ranker := report.NewRanker(taskStore)
	synthesizer := report.NewSynthesizer(settingsStore, factory, aggregator, ranker, report.SynthesizerOptions{
		TodoLimit:     cfg.ReportTodoLimit,
		TodoDaysAhead: cfg.ReportTodoDaysAhead,
		Metrics:       metrics,
	})

	api := httpapi.New(cfg, httpapi.Services{
		Aggregator:  aggregator,
		Ranker:      ranker,
		Synthesizer: synthesizer,
		ToolConfigs: report.NewToolConfigService(settingsStore),
		Settings:    settingsStore,
		LLM:         factory,
		StoreMode:   storeMode,
	}, metrics)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// connect retries store construction while postgres comes up.
func connect(ctx context.Context, name string, open func(ctx context.Context) error) error {
	attempt := 0
	return reliability.Retry(ctx, 5, 500*time.Millisecond, 8*time.Second, func(ctx context.Context) error {
		attempt++
		err := open(ctx)
		if err != nil {
			log.Printf("%s store connect attempt %d failed: %v", name, attempt, err)
		}
		return err
	})
}
