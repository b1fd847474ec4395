package settings

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process settings store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	llm   map[string]LLMConfig
	order []string
	tools map[string]ToolConfig
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		llm:   make(map[string]LLMConfig),
		tools: make(map[string]ToolConfig),
	}
}

func (s *InMemoryStore) SaveLLMConfig(_ context.Context, cfg LLMConfig) (LLMConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if prev, ok := s.llm[cfg.ID]; ok {
		cfg.CreatedAt = prev.CreatedAt
	} else {
		s.order = append(s.order, cfg.ID)
		if cfg.CreatedAt.IsZero() {
			cfg.CreatedAt = now
		}
	}
	cfg.UpdatedAt = now
	s.llm[cfg.ID] = cfg
	return cfg, nil
}

func (s *InMemoryStore) GetLLMConfig(_ context.Context, id string) (LLMConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.llm[id]
	if !ok {
		return LLMConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (s *InMemoryStore) ListLLMConfigs(_ context.Context, userID string) ([]LLMConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LLMConfig, 0)
	for _, id := range s.order {
		if cfg := s.llm[id]; cfg.UserID == userID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindToolConfig(_ context.Context, userID, toolName string) (ToolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.tools[toolKey(userID, toolName)]
	if !ok {
		return ToolConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (s *InMemoryStore) SaveToolConfig(_ context.Context, cfg ToolConfig) (ToolConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := toolKey(cfg.UserID, cfg.ToolName)
	now := time.Now().UTC()
	if prev, ok := s.tools[key]; ok {
		cfg.ID = prev.ID
		cfg.CreatedAt = prev.CreatedAt
	} else {
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	s.tools[key] = cfg
	return cfg, nil
}

func (s *InMemoryStore) Close() error { return nil }

func toolKey(userID, toolName string) string {
	return userID + "\x00" + toolName
}
