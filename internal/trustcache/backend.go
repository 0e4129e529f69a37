package trustcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// Backend is a shared cache tier behind the in-process TTLCache.
type Backend interface {
	// GetMany returns the scores found for ids. Missing ids are absent.
	GetMany(ctx context.Context, ids []string) (map[string]float64, error)
	// SetMany writes scores with ttl.
	SetMany(ctx context.Context, scores map[string]float64, ttl time.Duration) error
}

// cachedScore is the CBOR value stored per key.
type cachedScore struct {
	Score    float64   `cbor:"1,keyasint"`
	CachedAt time.Time `cbor:"2,keyasint"`
}

// RedisBackend stores scores in Redis so replicas share warm entries.
type RedisBackend struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisBackend wraps client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, now: time.Now}
}

// GetMany fetches ids with a single MGET.
func (b *RedisBackend) GetMany(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make(map[string]float64, len(ids))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var cs cachedScore
		if err := cbor.Unmarshal([]byte(s), &cs); err != nil {
			continue
		}
		out[ids[i]] = cs.Score
	}
	return out, nil
}

// SetMany writes all scores in one pipeline.
func (b *RedisBackend) SetMany(ctx context.Context, scores map[string]float64, ttl time.Duration) error {
	if len(scores) == 0 {
		return nil
	}
	now := b.now().UTC()
	var encodeErr error
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, score := range scores {
			data, err := cbor.Marshal(cachedScore{Score: score, CachedAt: now})
			if err != nil {
				encodeErr = errors.Join(encodeErr, err)
				continue
			}
			pipe.Set(ctx, Key(id), data, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	if encodeErr != nil {
		return fmt.Errorf("encode cached score: %w", encodeErr)
	}
	return nil
}
