package resultstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// RedisConfig configures the Redis result-store backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all artifact keys (e.g., "cleanflow:results:")
	Prefix string

	// TTL is the time-to-live for artifacts (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "cleanflow:results:",
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisStore keeps artifacts in Redis. SETNX gives the write-once
// guarantee: a second write for the same key is silently a no-op.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore creates a Redis-backed result store and verifies the
// connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, cferr.StoreUnavailable("redis", err)
	}

	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) fullKey(key string) string {
	return s.cfg.Prefix + key
}

// Put stores content unless the key already exists.
func (s *RedisStore) Put(ctx context.Context, key string, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.client.SetNX(ctx, s.fullKey(key), content, s.cfg.TTL).Err(); err != nil {
		return cferr.StoreUnavailable("redis", err)
	}
	return nil
}

// Get retrieves content for a key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	content, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, cferr.StoreUnavailable("redis", err)
	}
	return content, true, nil
}

// Exists reports whether a key has been written.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, s.fullKey(key)).Result()
	if err != nil {
		return false, cferr.StoreUnavailable("redis", err)
	}
	return n > 0, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
