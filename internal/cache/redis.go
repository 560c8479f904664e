package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"mcphub/pkg/logging"
)

// RedisStore is the optional remote tier. Values are stored as JSON with a
// native redis TTL. Every failure is treated as a miss so a flaky remote
// never breaks tool calls; the failure is logged and the caller falls
// through to the upstream.
type RedisStore struct {
	client *redis.Client
	prefix string

	totalRequests int64
	hits          int64
	misses        int64
}

// RedisConfig selects the remote cache backend.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// NewRedisStore connects a remote tier and verifies the backend responds.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mcphub:cache:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// newRedisStoreWithClient is the test seam.
func newRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (interface{}, bool) {
	atomic.AddInt64(&s.totalRequests, 1)

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn("Cache", "remote get for %s failed: %v", key, err)
		}
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		logging.Warn("Cache", "remote entry for %s is not valid JSON: %v", key, err)
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&s.hits, 1)
	return value, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		logging.Warn("Cache", "value for %s is not JSON-serializable: %v", key, err)
		return
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		logging.Warn("Cache", "remote set for %s failed: %v", key, err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		logging.Warn("Cache", "remote delete for %s failed: %v", key, err)
	}
}

// Clear removes every key under the store's prefix, scanning in batches so
// large caches do not block the backend.
func (s *RedisStore) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 256).Result()
		if err != nil {
			logging.Warn("Cache", "remote clear scan failed: %v", err)
			return
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				logging.Warn("Cache", "remote clear delete failed: %v", err)
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// Stats reports the counters this process observed. Entry counts live on
// the backend, so CurrentSize and MaxSize stay zero for the remote tier.
func (s *RedisStore) Stats() Stats {
	total := atomic.LoadInt64(&s.totalRequests)
	hits := atomic.LoadInt64(&s.hits)

	stats := Stats{
		TotalRequests: total,
		Hits:          hits,
		Misses:        atomic.LoadInt64(&s.misses),
	}
	if total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
