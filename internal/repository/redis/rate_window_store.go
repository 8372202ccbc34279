package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/util"
)

const rateWindowPrefix = "rate_window:"

// RateWindowStore records occurrences in a sorted set per key, scored by
// unix milliseconds.
type RateWindowStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

func NewRateWindowStore(c *client.RedisClient, timeout time.Duration) *RateWindowStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RateWindowStore{client: c, timeout: timeout}
}

func (s *RateWindowStore) Count(ctx context.Context, key string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Client.ZCount(ctx, rateWindowPrefix+key, millis(since), "+inf").Result()
	if err != nil {
		util.Error("Failed to count rate window", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("failed to count rate window: %w", err)
	}
	return int(n), nil
}

func (s *RateWindowStore) Oldest(ctx context.Context, key string, since time.Time) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.client.Client.ZRangeByScoreWithScores(ctx, rateWindowPrefix+key, &redis.ZRangeBy{
		Min:   millis(since),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read rate window: %w", err)
	}
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(entries[0].Score)), true, nil
}

// Add appends at and trims everything older than at-window in one MULTI.
func (s *RateWindowStore) Add(ctx context.Context, key string, at time.Time, window time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	redisKey := rateWindowPrefix + key
	_, err := s.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: millis(at) + ":" + uuid.NewString(),
		})
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+millis(at.Add(-window)))
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		util.Error("Failed to record rate window entry", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to record rate window entry: %w", err)
	}
	return nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
