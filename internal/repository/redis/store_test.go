package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
)

func newTestClient(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return client.NewRedisClientFromConn(rdb), mr
}

func TestBlockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	store := NewBlockStore(c, time.Second)

	_, err := store.Get(ctx, "+14155550100")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(24 * time.Hour)
	rec, err := store.Update(ctx, "+14155550100", func(cur *models.BlockRecord) *models.BlockRecord {
		assert.Nil(t, cur)
		return &models.BlockRecord{
			DailyAttempts:       7,
			TemporaryBlockUntil: &until,
			LastUpdated:         now,
			CreatedAt:           now,
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "+14155550100", rec.PhoneNumber)

	got, err := store.Get(ctx, "+14155550100")
	require.NoError(t, err)
	assert.Equal(t, 7, got.DailyAttempts)
	assert.False(t, got.IsPermanentlyBlocked)
	require.NotNil(t, got.TemporaryBlockUntil)
	assert.True(t, got.TemporaryBlockUntil.Equal(until))
	assert.True(t, got.LastUpdated.Equal(now))

	// Clearing the temporary block removes the field.
	_, err = store.Update(ctx, "+14155550100", func(cur *models.BlockRecord) *models.BlockRecord {
		require.NotNil(t, cur)
		cur.TemporaryBlockUntil = nil
		cur.IsPermanentlyBlocked = true
		return cur
	})
	require.NoError(t, err)
	got, err = store.Get(ctx, "+14155550100")
	require.NoError(t, err)
	assert.Nil(t, got.TemporaryBlockUntil)
	assert.True(t, got.IsPermanentlyBlocked)

	// A nil mutation writes nothing.
	same, err := store.Update(ctx, "+14155550100", func(*models.BlockRecord) *models.BlockRecord { return nil })
	require.NoError(t, err)
	assert.True(t, same.IsPermanentlyBlocked)

	ok, err := store.Delete(ctx, "+14155550100")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Delete(ctx, "+14155550100")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBlockStoreListOrder(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	store := NewBlockStore(c, time.Second)

	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, phone := range []string{"+10000000001", "+10000000002", "+10000000003"} {
		at := base.Add(time.Duration(i) * time.Minute)
		_, err := store.Update(ctx, phone, func(*models.BlockRecord) *models.BlockRecord {
			return &models.BlockRecord{DailyAttempts: 1, LastUpdated: at, CreatedAt: at}
		})
		require.NoError(t, err)
	}

	// A record removed behind the store's back is skipped and pruned.
	mr.Del(blockPrefix + "+10000000002")

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "+10000000003", list[0].PhoneNumber)
	assert.Equal(t, "+10000000001", list[1].PhoneNumber)

	members, err := mr.ZMembers(blockIndexKey)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestBlockStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	store := NewBlockStore(c, 5*time.Second)
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "+14155550100", func(cur *models.BlockRecord) *models.BlockRecord {
				if cur == nil {
					cur = &models.BlockRecord{CreatedAt: now}
				}
				cur.DailyAttempts++
				cur.LastUpdated = now
				return cur
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "+14155550100")
	require.NoError(t, err)
	assert.Equal(t, 5, got.DailyAttempts)
}

func TestRateWindowStore(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	store := NewRateWindowStore(c, time.Second)

	window := time.Minute
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Add(ctx, "ip:1", base.Add(time.Duration(i)*10*time.Second), window))
	}

	n, err := store.Count(ctx, "ip:1", base)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.Count(ctx, "ip:1", base.Add(15*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	oldest, ok, err := store.Oldest(ctx, "ip:1", base.Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, oldest.Equal(base.Add(10*time.Second)))

	// Adding past the window trims the first two entries.
	require.NoError(t, store.Add(ctx, "ip:1", base.Add(75*time.Second), window))
	members, err := mr.ZMembers(rateWindowPrefix + "ip:1")
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.True(t, mr.TTL(rateWindowPrefix+"ip:1") > 0)

	_, ok, err = store.Oldest(ctx, "ip:2", base)
	require.NoError(t, err)
	assert.False(t, ok)
}
