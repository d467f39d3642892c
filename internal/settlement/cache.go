package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

const statsKeyPrefix = "sleep:stats:"

// RedisStatsCache keeps UserStats as JSON strings with a TTL.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStatsCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStatsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStatsCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisStatsCache) Get(ctx context.Context, wallet string) (models.UserStats, bool) {
	raw, err := c.client.Get(ctx, statsKeyPrefix+wallet).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.UserStats{}, false
	}
	if err != nil {
		c.logger.Debug("redis GET stats failed", zap.String("wallet", wallet), zap.Error(err))
		return models.UserStats{}, false
	}
	var stats models.UserStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return models.UserStats{}, false
	}
	return stats, true
}

func (c *RedisStatsCache) Set(ctx context.Context, wallet string, stats models.UserStats) {
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, statsKeyPrefix+wallet, data, c.ttl).Err(); err != nil {
		c.logger.Debug("redis SET stats failed", zap.String("wallet", wallet), zap.Error(err))
	}
}
