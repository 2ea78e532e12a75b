package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tombstone is the version written with a nil value. No later write can
// replace it before it expires.
const Tombstone int64 = math.MaxInt64

// Entries are hashes of {v: version, d: json}. An empty d marks a tombstone.
// A write whose version is older than the stored one is dropped.
var versionedSetScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "v")
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "v", ARGV[1], "d", ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
else
  redis.call("PERSIST", KEYS[1])
end
return 1
`)

// ViewCache is a JSON-encoded Redis cache for one read view type T.
// A zero ttl stores keys without expiry.
type ViewCache[T any] struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewViewCache binds a ViewCache to client.
func NewViewCache[T any](client *redis.Client, ttl time.Duration, logger *slog.Logger) *ViewCache[T] {
	return &ViewCache[T]{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached value for key. A tombstone is found with a nil
// value. Redis and decode errors are logged and reported as a miss.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.client.HGet(ctx, key, "d").Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("view cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, true
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("view cache decode failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return &v, true
}

// Set stores value under key unless a newer version is already cached. A
// nil value writes a tombstone. Failures are logged only.
func (c *ViewCache[T]) Set(ctx context.Context, key string, value *T, version int64) {
	var data []byte
	if value != nil {
		var err error
		if data, err = json.Marshal(value); err != nil {
			c.logger.Warn("view cache encode failed", slog.String("key", key), slog.Any("error", err))
			return
		}
	}
	stored, err := versionedSetScript.Run(ctx, c.client, []string{key}, version, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("view cache write failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if stored == 0 {
		c.logger.Debug("view cache write superseded", slog.String("key", key), slog.Int64("version", version))
	}
}
