package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisGenKey       = "authz:gen"
	redisGenPrefix    = "authz:gen:"
	redisEntryPrefix  = "authz:d:"
	redisEntryPattern = redisEntryPrefix + "*"

	// InvalidationChannel carries principal IDs whose cached decisions must
	// be dropped; "*" clears everything.
	InvalidationChannel = "authz.invalidate"
)

// RedisCache is the externalized DecisionCache for multi-process
// deployments. Entries expire server-side; invalidation bumps a generation
// counter that is part of every entry key, so stale writes land under dead
// keys and TTL reaps them.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache constructs a Redis-backed decision cache.
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) generations(ctx context.Context, principalID string) Generation {
	vals, err := c.client.MGet(ctx, redisGenKey, redisGenPrefix+principalID).Result()
	if err != nil {
		// Unreadable generations degrade to generation zero: reads under the
		// wrong generation miss and re-evaluate, which keeps us fail-closed.
		c.logger.Warn("authz cache generations", slog.Any("error", err))
		return Generation{}
	}
	return Generation{global: parseGen(vals[0]), principal: parseGen(vals[1])}
}

func parseGen(v any) uint64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + uint64(s[i]-'0')
	}
	return n
}

func redisEntryKey(gen Generation, key CacheKey) string {
	return fmt.Sprintf("%s%d.%d:%s", redisEntryPrefix, gen.global, gen.principal, key.String())
}

// Get loads a cached decision. Any Redis error is treated as a miss.
func (c *RedisCache) Get(ctx context.Context, key CacheKey) (Result, Generation, bool) {
	gen := c.generations(ctx, key.PrincipalID)
	payload, err := c.client.Get(ctx, redisEntryKey(gen, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("authz cache get", slog.Any("error", err))
		}
		return Result{}, gen, false
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		c.logger.Warn("authz cache decode", slog.Any("error", err))
		return Result{}, gen, false
	}
	return res, gen, true
}

// Set stores a decision under the generation observed at read time,
// best-effort.
func (c *RedisCache) Set(ctx context.Context, key CacheKey, res Result, ttl time.Duration, gen Generation) {
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("authz cache encode", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, redisEntryKey(gen, key), payload, ttl).Err(); err != nil {
		c.logger.Warn("authz cache set", slog.Any("error", err))
	}
}

// Invalidate bumps the per-principal generation, or the global one when
// principalID is empty. Old entries become unreachable immediately and decay
// through their TTL.
func (c *RedisCache) Invalidate(ctx context.Context, principalID string) error {
	key := redisGenKey
	if principalID != "" {
		key = redisGenPrefix + principalID
	}
	if err := c.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("authz: invalidate %q: %w", principalID, err)
	}
	return nil
}

// Stats counts live decision entries. Expired is always zero because Redis
// expires entries server-side.
func (c *RedisCache) Stats(ctx context.Context) (CacheStats, error) {
	var (
		cursor uint64
		size   int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisEntryPattern, 256).Result()
		if err != nil {
			return CacheStats{}, fmt.Errorf("authz: cache stats: %w", err)
		}
		size += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	return CacheStats{Size: size}, nil
}

// InvalidationBus fans invalidation events out to every instance holding a
// process-local cache.
type InvalidationBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewInvalidationBus constructs a bus on the default channel.
func NewInvalidationBus(client *redis.Client, logger *slog.Logger) *InvalidationBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationBus{client: client, channel: InvalidationChannel, logger: logger}
}

// Publish broadcasts an invalidation for one principal, or for everything
// when principalID is empty.
func (b *InvalidationBus) Publish(ctx context.Context, principalID string) error {
	payload := principalID
	if payload == "" {
		payload = "*"
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Listen applies broadcast invalidations to the local cache until the
// context is cancelled.
func (b *InvalidationBus) Listen(ctx context.Context, cache DecisionCache) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Warn("authz invalidation unsubscribe", slog.Any("error", err))
		}
	}()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			principalID := strings.TrimSpace(msg.Payload)
			if principalID == "*" {
				principalID = ""
			}
			if err := cache.Invalidate(ctx, principalID); err != nil {
				b.logger.Warn("authz invalidation apply", slog.Any("error", err))
			}
		}
	}
}
