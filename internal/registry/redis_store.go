package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a durable StateStore: one JSON value per item plus a sorted
// set indexed by last attempt time. Values expire on their own after ttl so a
// dead scheduler does not leave state behind forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a store. A non-positive ttl falls back to 24h.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) indexKey() string {
	return "retry:index"
}

func (s *RedisStore) stateKey(key string) string {
	return fmt.Sprintf("retry:state:%s", key)
}

// Save writes the state value and its index entry atomically.
func (s *RedisStore) Save(ctx context.Context, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal retry state: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stateKey(st.Key), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(st.LastAttemptAt.UnixMilli()),
		Member: st.Key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save retry state: %w", err)
	}
	return nil
}

// Delete removes the state value and its index entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.indexKey(), key)
	pipe.Del(ctx, s.stateKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete retry state: %w", err)
	}
	return nil
}

// Load returns every persisted state. Index entries whose value expired are
// dropped from the index as they are found.
func (s *RedisStore) Load(ctx context.Context) ([]State, error) {
	keys, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load retry index: %w", err)
	}
	states := make([]State, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, s.stateKey(key)).Bytes()
		if err == redis.Nil {
			s.client.ZRem(ctx, s.indexKey(), key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load retry state %q: %w", key, err)
		}
		var st State
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("unmarshal retry state %q: %w", key, err)
		}
		states = append(states, st)
	}
	return states, nil
}
