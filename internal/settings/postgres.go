package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/ducktodo/internal/llm"
)

// PostgresStore persists LLM and tool configuration in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_llm_configs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			llm_provider TEXT NOT NULL,
			llm_api_key TEXT NOT NULL,
			llm_api_url TEXT NOT NULL DEFAULT '',
			llm_model_name TEXT NOT NULL DEFAULT '',
			llm_model_temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
			llm_model_thinking BOOLEAN NOT NULL DEFAULT FALSE,
			llm_model_type SMALLINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_llm_configs_user ON user_llm_configs (user_id);`,
		`CREATE TABLE IF NOT EXISTS user_tool_configs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			config_json TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, tool_name)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveLLMConfig(ctx context.Context, cfg LLMConfig) (LLMConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_llm_configs (
			id, user_id, llm_provider, llm_api_key, llm_api_url, llm_model_name,
			llm_model_temperature, llm_model_thinking, llm_model_type, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			llm_provider=EXCLUDED.llm_provider,
			llm_api_key=EXCLUDED.llm_api_key,
			llm_api_url=EXCLUDED.llm_api_url,
			llm_model_name=EXCLUDED.llm_model_name,
			llm_model_temperature=EXCLUDED.llm_model_temperature,
			llm_model_thinking=EXCLUDED.llm_model_thinking,
			llm_model_type=EXCLUDED.llm_model_type,
			updated_at=EXCLUDED.updated_at
		RETURNING created_at`,
		cfg.ID,
		cfg.UserID,
		cfg.Provider,
		cfg.APIKey,
		cfg.APIURL,
		cfg.ModelName,
		cfg.Temperature,
		cfg.Thinking,
		int(cfg.ModelType),
		cfg.CreatedAt,
		cfg.UpdatedAt,
	).Scan(&cfg.CreatedAt)
	if err != nil {
		return LLMConfig{}, fmt.Errorf("save llm config: %w", err)
	}
	return cfg, nil
}

const llmConfigColumns = `id, user_id, llm_provider, llm_api_key, llm_api_url, llm_model_name,
	llm_model_temperature, llm_model_thinking, llm_model_type, created_at, updated_at`

func (s *PostgresStore) GetLLMConfig(ctx context.Context, id string) (LLMConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+llmConfigColumns+` FROM user_llm_configs WHERE id=$1`, id)
	cfg, err := scanLLMConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LLMConfig{}, ErrNotFound
		}
		return LLMConfig{}, fmt.Errorf("get llm config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) ListLLMConfigs(ctx context.Context, userID string) ([]LLMConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+llmConfigColumns+` FROM user_llm_configs WHERE user_id=$1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list llm configs: %w", err)
	}
	defer rows.Close()

	out := make([]LLMConfig, 0)
	for rows.Next() {
		cfg, err := scanLLMConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan llm config row: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate llm config rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindToolConfig(ctx context.Context, userID, toolName string) (ToolConfig, error) {
	var cfg ToolConfig
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, tool_name, config_json, created_at, updated_at
		   FROM user_tool_configs WHERE user_id=$1 AND tool_name=$2`,
		userID, toolName,
	).Scan(&cfg.ID, &cfg.UserID, &cfg.ToolName, &cfg.ConfigJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ToolConfig{}, ErrNotFound
		}
		return ToolConfig{}, fmt.Errorf("find tool config: %w", err)
	}
	return cfg, nil
}

// SaveToolConfig upserts on (user_id, tool_name); the existing id is kept.
func (s *PostgresStore) SaveToolConfig(ctx context.Context, cfg ToolConfig) (ToolConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_tool_configs (id, user_id, tool_name, config_json, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)
		 ON CONFLICT (user_id, tool_name) DO UPDATE SET
			config_json=EXCLUDED.config_json,
			updated_at=EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		cfg.ID, cfg.UserID, cfg.ToolName, cfg.ConfigJSON, now,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return ToolConfig{}, fmt.Errorf("save tool config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanLLMConfig(row pgx.Row) (LLMConfig, error) {
	var (
		cfg       LLMConfig
		modelType int
	)
	if err := row.Scan(
		&cfg.ID,
		&cfg.UserID,
		&cfg.Provider,
		&cfg.APIKey,
		&cfg.APIURL,
		&cfg.ModelName,
		&cfg.Temperature,
		&cfg.Thinking,
		&modelType,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return LLMConfig{}, err
	}
	cfg.ModelType = llm.Capability(modelType)
	return cfg, nil
}
