package job

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists job snapshots to Redis under job:<id>, keyed with a
// retention TTL, so a job's last known state survives process restarts
// for inspection even though the Manager itself is in-process only.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore from a connection URL (redis://...).
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("job: parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Save writes j's snapshot to Redis, keyed by job ID.
func (s *RedisStore) Save(j Job) error {
	data, err := MarshalSnapshot(j)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, "job:"+j.ID, data, s.ttl).Err()
}

// Load fetches a previously saved snapshot, primarily for recovery after
// a restart.
func (s *RedisStore) Load(ctx context.Context, id string) (Job, error) {
	data, err := s.client.Get(ctx, "job:"+id).Bytes()
	if err != nil {
		return Job{}, fmt.Errorf("job: load snapshot %s: %w", id, err)
	}
	var j Job
	if err := unmarshalSnapshot(data, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
