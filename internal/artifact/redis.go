package artifact

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kraklabs/builder/internal/errs"
)

// RedisBackend is the ephemeral peer-to-peer artifact cache tier: faster
// than the durable backend, but never the only copy — Fetch misses fall
// through to whatever durable backend the caller wraps this with, and
// Upload is fire-and-forget (an expired/evicted Redis entry is not a
// correctness problem, only a cache miss).
type RedisBackend struct {
	client *redis.Client
	ttl    int64 // seconds; 0 means no expiry
}

// RedisConfig names the Redis endpoint and entry TTL.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTLSecs  int64
}

// NewRedisBackend returns a backend talking to addr. It does not ping on
// construction; the first Fetch/Upload call surfaces connection failures.
func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBackend{client: client, ttl: cfg.TTLSecs}
}

func (b *RedisBackend) Fetch(ctx context.Context, id ID) ([]byte, error) {
	data, err := b.client.Get(ctx, id.Hash).Bytes()
	if err == redis.Nil {
		return nil, &errs.ArtifactNotFoundError{Hash: id.Hash}
	}
	if err != nil {
		return nil, &errs.NetworkError{Cause: err}
	}
	return data, nil
}

func (b *RedisBackend) Upload(ctx context.Context, id ID, data []byte) error {
	var ttl time.Duration
	if b.ttl > 0 {
		ttl = time.Duration(b.ttl) * time.Second
	}
	if err := b.client.Set(ctx, id.Hash, data, ttl).Err(); err != nil {
		return &errs.NetworkError{Cause: err}
	}
	return nil
}
