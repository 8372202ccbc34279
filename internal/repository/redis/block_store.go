package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

const (
	blockPrefix   = "block:"
	blockIndexKey = "block:index"

	fieldDailyAttempts = "daily_attempts"
	fieldPermanent     = "permanent"
	fieldTempUntil     = "temp_until"
	fieldLastUpdated   = "last_updated"
	fieldCreatedAt     = "created_at"

	maxTxRetries = 10
)

// BlockStore keeps one hash per phone number plus a sorted set of phone
// numbers scored by last update, which backs List.
type BlockStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

func NewBlockStore(c *client.RedisClient, timeout time.Duration) *BlockStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BlockStore{client: c, timeout: timeout}
}

func (s *BlockStore) Get(ctx context.Context, phone string) (*models.BlockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.Client.HGetAll(ctx, blockPrefix+phone).Result()
	if err != nil {
		util.Error("Failed to get block record", util.Phone("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("failed to get block record: %w", err)
	}
	rec, err := decodeBlockRecord(phone, fields)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

// Update runs fn inside WATCH/MULTI on the record key, retrying when another
// writer got there first.
func (s *BlockStore) Update(ctx context.Context, phone string, fn repository.BlockMutation) (*models.BlockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := blockPrefix + phone
	var result *models.BlockRecord

	err := s.client.Watch(ctx, maxTxRetries, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := decodeBlockRecord(phone, fields)
		if err != nil {
			return err
		}

		next := fn(current)
		if next == nil {
			result = current
			return nil
		}
		next.PhoneNumber = phone

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeBlockRecord(next))
			if next.TemporaryBlockUntil == nil {
				pipe.HDel(ctx, key, fieldTempUntil)
			}
			pipe.ZAdd(ctx, blockIndexKey, redis.Z{
				Score:  float64(next.LastUpdated.UnixMilli()),
				Member: phone,
			})
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		util.Warn("Block record transaction kept conflicting", util.Phone("phone", phone))
		return nil, fmt.Errorf("failed to update block record: %w", repository.ErrConflict)
	}
	if err != nil {
		util.Error("Failed to update block record", util.Phone("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("failed to update block record: %w", err)
	}
	return result, nil
}

func (s *BlockStore) Delete(ctx context.Context, phone string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var del *redis.IntCmd
	_, err := s.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, blockPrefix+phone)
		pipe.ZRem(ctx, blockIndexKey, phone)
		return nil
	})
	if err != nil {
		util.Error("Failed to delete block record", util.Phone("phone", phone), zap.Error(err))
		return false, fmt.Errorf("failed to delete block record: %w", err)
	}
	return del.Val() > 0, nil
}

func (s *BlockStore) List(ctx context.Context) ([]*models.BlockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	phones, err := s.client.Client.ZRevRange(ctx, blockIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read block index: %w", err)
	}
	if len(phones) == 0 {
		return []*models.BlockRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(phones))
	_, err = s.client.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, phone := range phones {
			cmds[i] = pipe.HGetAll(ctx, blockPrefix+phone)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load block records: %w", err)
	}

	out := make([]*models.BlockRecord, 0, len(phones))
	var stale []interface{}
	for i, cmd := range cmds {
		rec, err := decodeBlockRecord(phones[i], cmd.Val())
		if err != nil {
			util.Warn("Skipping malformed block record", util.Phone("phone", phones[i]), zap.Error(err))
			continue
		}
		if rec == nil {
			stale = append(stale, phones[i])
			continue
		}
		out = append(out, rec)
	}

	if len(stale) > 0 {
		if err := s.client.Client.ZRem(ctx, blockIndexKey, stale...).Err(); err != nil {
			util.Warn("Failed to prune block index", zap.Error(err))
		}
	}
	return out, nil
}

func encodeBlockRecord(rec *models.BlockRecord) map[string]interface{} {
	permanent := "0"
	if rec.IsPermanentlyBlocked {
		permanent = "1"
	}
	fields := map[string]interface{}{
		fieldDailyAttempts: rec.DailyAttempts,
		fieldPermanent:     permanent,
		fieldLastUpdated:   rec.LastUpdated.UnixMilli(),
		fieldCreatedAt:     rec.CreatedAt.UnixMilli(),
	}
	if rec.TemporaryBlockUntil != nil {
		fields[fieldTempUntil] = rec.TemporaryBlockUntil.UnixMilli()
	}
	return fields
}

// decodeBlockRecord returns nil for an empty hash.
func decodeBlockRecord(phone string, fields map[string]string) (*models.BlockRecord, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &models.BlockRecord{PhoneNumber: phone}
	var err error

	if rec.DailyAttempts, err = strconv.Atoi(fields[fieldDailyAttempts]); err != nil {
		return nil, fmt.Errorf("invalid %s for block record: %w", fieldDailyAttempts, err)
	}
	rec.IsPermanentlyBlocked = fields[fieldPermanent] == "1"

	if rec.LastUpdated, err = parseMillis(fields[fieldLastUpdated]); err != nil {
		return nil, fmt.Errorf("invalid %s for block record: %w", fieldLastUpdated, err)
	}
	if rec.CreatedAt, err = parseMillis(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("invalid %s for block record: %w", fieldCreatedAt, err)
	}
	if v, ok := fields[fieldTempUntil]; ok && v != "" {
		until, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s for block record: %w", fieldTempUntil, err)
		}
		rec.TemporaryBlockUntil = &until
	}
	return rec, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
