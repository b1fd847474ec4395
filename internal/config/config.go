package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config contains all runtime settings for the daily report service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	LLMChatTimeout         time.Duration
	LLMEmbeddingTimeout    time.Duration
	LLMRerankTimeout       time.Duration
	LLMCompatibleStreaming bool

	// Per-provider endpoint overrides; empty keeps the built-in default.
	OpenAIBaseURL      string
	SiliconFlowBaseURL string
	BailianBaseURL     string

	ReportTodoLimit     int
	ReportTodoDaysAhead int

	ConfigFile string
}

// fileConfig mirrors the optional TOML file. Pointer fields distinguish
// "unset" from zero values.
type fileConfig struct {
	Server struct {
		BindAddr         string        `toml:"bind_addr"`
		ShutdownTimeout  time.Duration `toml:"shutdown_timeout"`
		MetricsNamespace string        `toml:"metrics_namespace"`
		AllowAnyOrigin   *bool         `toml:"allow_any_origin"`
	} `toml:"server"`
	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`
	LLM struct {
		ChatTimeout         time.Duration     `toml:"chat_timeout"`
		EmbeddingTimeout    time.Duration     `toml:"embedding_timeout"`
		RerankTimeout       time.Duration     `toml:"rerank_timeout"`
		CompatibleStreaming *bool             `toml:"compatible_streaming"`
		BaseURLs            map[string]string `toml:"base_urls"`
	} `toml:"llm"`
	Report struct {
		TodoLimit     int  `toml:"todo_limit"`
		TodoDaysAhead *int `toml:"todo_days_ahead"`
	} `toml:"report"`
}

// Load applies defaults, then the TOML file named by APP_CONFIG_FILE (if
// any), then environment variables.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               ":8080",
		ShutdownTimeout:        15 * time.Second,
		MetricsNamespace:       "ducktodo",
		AllowAnyOrigin:         false,
		LLMChatTimeout:         60 * time.Second,
		LLMEmbeddingTimeout:    15 * time.Second,
		LLMRerankTimeout:       20 * time.Second,
		LLMCompatibleStreaming: true,
		ReportTodoLimit:        10,
		ReportTodoDaysAhead:    3,
		ConfigFile:             stringsTrimSpace("APP_CONFIG_FILE"),
	}
	if cfg.ConfigFile != "" {
		if err := applyFile(&cfg, cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.OpenAIBaseURL = envOrDefault("LLM_OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.SiliconFlowBaseURL = envOrDefault("LLM_SILICONFLOW_BASE_URL", cfg.SiliconFlowBaseURL)
	cfg.BailianBaseURL = envOrDefault("LLM_BAILIAN_BASE_URL", cfg.BailianBaseURL)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMChatTimeout, err = durationFromEnv("LLM_CHAT_TIMEOUT", cfg.LLMChatTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMEmbeddingTimeout, err = durationFromEnv("LLM_EMBED_TIMEOUT", cfg.LLMEmbeddingTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMRerankTimeout, err = durationFromEnv("LLM_RERANK_TIMEOUT", cfg.LLMRerankTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMCompatibleStreaming, err = boolFromEnv("LLM_COMPATIBLE_STREAMING", cfg.LLMCompatibleStreaming)
	if err != nil {
		return Config{}, err
	}
	cfg.ReportTodoLimit, err = intFromEnv("REPORT_TODO_LIMIT", cfg.ReportTodoLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ReportTodoDaysAhead, err = intFromEnv("REPORT_TODO_DAYS_AHEAD", cfg.ReportTodoDaysAhead)
	if err != nil {
		return Config{}, err
	}

	if cfg.LLMChatTimeout <= 0 || cfg.LLMEmbeddingTimeout <= 0 || cfg.LLMRerankTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM timeouts must be positive")
	}
	if cfg.ReportTodoLimit <= 0 {
		return Config{}, fmt.Errorf("REPORT_TODO_LIMIT must be positive")
	}
	if cfg.ReportTodoDaysAhead < 0 {
		return Config{}, fmt.Errorf("REPORT_TODO_DAYS_AHEAD must be >= 0")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("APP_CONFIG_FILE %s: %w", path, err)
	}

	if fc.Server.BindAddr != "" {
		cfg.BindAddr = fc.Server.BindAddr
	}
	if fc.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = fc.Server.ShutdownTimeout
	}
	if fc.Server.MetricsNamespace != "" {
		cfg.MetricsNamespace = fc.Server.MetricsNamespace
	}
	if fc.Server.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *fc.Server.AllowAnyOrigin
	}
	if fc.Database.URL != "" {
		cfg.DatabaseURL = fc.Database.URL
	}

	if fc.LLM.ChatTimeout > 0 {
		cfg.LLMChatTimeout = fc.LLM.ChatTimeout
	}
	if fc.LLM.EmbeddingTimeout > 0 {
		cfg.LLMEmbeddingTimeout = fc.LLM.EmbeddingTimeout
	}
	if fc.LLM.RerankTimeout > 0 {
		cfg.LLMRerankTimeout = fc.LLM.RerankTimeout
	}
	if fc.LLM.CompatibleStreaming != nil {
		cfg.LLMCompatibleStreaming = *fc.LLM.CompatibleStreaming
	}
	for name, url := range fc.LLM.BaseURLs {
		url = strings.TrimSpace(url)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "openai":
			cfg.OpenAIBaseURL = url
		case "siliconflow":
			cfg.SiliconFlowBaseURL = url
		case "bailian":
			cfg.BailianBaseURL = url
		default:
			return fmt.Errorf("APP_CONFIG_FILE %s: unknown provider %q in llm.base_urls", path, name)
		}
	}

	if fc.Report.TodoLimit > 0 {
		cfg.ReportTodoLimit = fc.Report.TodoLimit
	}
	if fc.Report.TodoDaysAhead != nil {
		cfg.ReportTodoDaysAhead = *fc.Report.TodoDaysAhead
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
