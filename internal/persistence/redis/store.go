package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quantgate/quantgate/internal/persistence"
)

// Store is a redis-backed StateStore for deployments that share learner
// state across processes. Blobs use the same versioned envelope as the
// file store, so the two are interchangeable.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// Config holds redis store settings
type Config struct {
	Addr      string        `yaml:"addr"`       // Default: localhost:6379
	Password  string        `yaml:"password"`   //
	DB        int           `yaml:"db"`         // Default: 0
	KeyPrefix string        `yaml:"key_prefix"` // Default: quantgate:state:
	Timeout   time.Duration `yaml:"timeout"`    // Default: 2s
}

// DefaultConfig returns default redis store settings
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "quantgate:state:",
		Timeout:   2 * time.Second,
	}
}

// NewStore creates a redis state store from config
func NewStore(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewStoreWithClient(client, cfg.KeyPrefix, cfg.Timeout)
}

// NewStoreWithClient wraps an existing client (injectable for testing)
func NewStoreWithClient(client redis.UniversalClient, prefix string, timeout time.Duration) *Store {
	if prefix == "" {
		prefix = "quantgate:state:"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Store{client: client, prefix: prefix, timeout: timeout}
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

// Save writes the payload as a versioned blob under key
func (s *Store) Save(ctx context.Context, key string, payload interface{}) error {
	data, err := persistence.Seal(payload)
	if err != nil {
		return fmt.Errorf("failed to seal blob %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return nil
}

// Load reads the blob under key into out
func (s *Store) Load(ctx context.Context, key string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return persistence.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return persistence.Open(data, out)
}

// Delete removes the blob under key
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}
