package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stl-viewer/models"
	"stl-viewer/utils"
)

// RedisStore persists the dataset blob under a single Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *utils.Logger
}

// NewRedisStore connects to Redis and returns a ready-to-use RedisStore.
// The initial ping is retried so a slow-starting Redis container does not
// kill the process.
func NewRedisStore(redisURL, key string, logger *utils.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := redis.NewClient(opt)

	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Logger: logger}
	err = retry.Do("redis-ping", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	})
	if err != nil {
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisStore{client: client, key: key, logger: logger}, nil
}

// Load returns the last persisted dataset. A missing key or a blob that
// fails to parse is treated as "no data", logged, and never raised.
func (s *RedisStore) Load() (models.Dataset, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blob, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return models.Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %q: %w", s.key, err)
	}

	var ds models.Dataset
	if err := json.Unmarshal(blob, &ds); err != nil {
		s.logger.Warn("[store] Persisted dataset is corrupt, treating as empty: %v", err)
		return models.Dataset{}, nil
	}
	if ds == nil {
		ds = models.Dataset{}
	}
	return ds, nil
}

// Replace serializes and persists the dataset, fully overwriting prior content.
func (s *RedisStore) Replace(ds models.Dataset) error {
	blob, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("redis: marshal dataset: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Set(ctx, s.key, blob, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", s.key, err)
	}
	return nil
}

// Clear is equivalent to Replace with an empty dataset.
func (s *RedisStore) Clear() error {
	return s.Replace(models.Dataset{})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
