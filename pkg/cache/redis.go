package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/errs"
	"github.com/redis/go-redis/v9"
)

func NewClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func Ping(ctx context.Context, c *redis.Client) error {
	return c.Ping(ctx).Err()
}

type RedisPairingStore struct {
	client *redis.Client
}

func NewRedisPairingStore(client *redis.Client) *RedisPairingStore {
	return &RedisPairingStore{client: client}
}

func pairingKey(tenantID string) string {
	return "pairing:" + tenantID
}

func (s *RedisPairingStore) Put(ctx context.Context, p PendingPairing) error {
	ttl := time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, pairingKey(p.TenantID), b, ttl).Err()
}

func (s *RedisPairingStore) Get(ctx context.Context, tenantID string) (PendingPairing, bool, error) {
	raw, err := s.client.Get(ctx, pairingKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingPairing{}, false, nil
	}
	if err != nil {
		return PendingPairing{}, false, err
	}
	var p PendingPairing
	if err := json.Unmarshal(raw, &p); err != nil {
		return PendingPairing{}, false, err
	}
	return p, true, nil
}

func (s *RedisPairingStore) Delete(ctx context.Context, tenantID string) error {
	return s.client.Del(ctx, pairingKey(tenantID)).Err()
}

type RedisEchoSet struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisEchoSet(client *redis.Client, ttl time.Duration) *RedisEchoSet {
	return &RedisEchoSet{client: client, ttl: ttl}
}

func echoKey(tenantID, externalID string) string {
	return "echo:" + scopedKey(tenantID, externalID)
}

func (s *RedisEchoSet) Add(ctx context.Context, tenantID, externalID string) error {
	return s.client.Set(ctx, echoKey(tenantID, externalID), 1, s.ttl).Err()
}

func (s *RedisEchoSet) Contains(ctx context.Context, tenantID, externalID string) (bool, error) {
	n, err := s.client.Exists(ctx, echoKey(tenantID, externalID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RedisRateLimiter shares a fixed window across process instances.
type RedisRateLimiter struct {
	client   *redis.Client
	limit    int
	interval time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int, interval time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, interval: interval}
}

func (l *RedisRateLimiter) CheckAndConsume(ctx context.Context, key string) error {
	rk := "ratelimit:" + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rk)
		pipe.ExpireNX(ctx, rk, l.interval)
		ttl = pipe.TTL(ctx, rk)
		return nil
	})
	if err != nil {
		return err
	}
	if incr.Val() <= int64(l.limit) {
		return nil
	}
	retry := ttl.Val()
	if retry <= 0 {
		retry = l.interval
	}
	return &errs.RateLimitError{RetryAfterSeconds: int(math.Ceil(retry.Seconds()))}
}
