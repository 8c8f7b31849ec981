package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store provides persistence for tenant configurations.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new config store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(tenantID string) string {
	return fmt.Sprintf("clinic:config:%s", tenantID)
}

// Get retrieves tenant config, returning default if not found.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultConfig(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	if cfg.TenantID == "" {
		cfg.TenantID = tenantID
	}
	return &cfg, nil
}

// Set saves tenant config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}

	return nil
}

// MemoryStore keeps configs in process; used by tests and local runs without Redis.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]*Config)}
}

// Get returns the stored config or the default.
func (m *MemoryStore) Get(_ context.Context, tenantID string) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[tenantID]; ok {
		clone := *cfg
		return &clone, nil
	}
	return DefaultConfig(tenantID), nil
}

// Set stores a copy of cfg.
func (m *MemoryStore) Set(_ context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	clone := *cfg
	m.mu.Lock()
	m.configs[cfg.TenantID] = &clone
	m.mu.Unlock()
	return nil
}
