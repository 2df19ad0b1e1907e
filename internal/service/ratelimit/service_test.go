package ratelimit_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"maca-service/internal/service/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRedisFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	now := time.Unix(1_700_000_010, 0)
	svc := ratelimit.NewService(rdb).WithClock(fixedClock(now))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := svc.Check(ctx, "ws:event:set_ready:u1", 3, time.Minute)
		require.True(t, d.Allowed, "hit %d should be allowed", i)
		assert.Equal(t, 3-i, d.Remaining)
	}
	d := svc.Check(ctx, "ws:event:set_ready:u1", 3, time.Minute)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)

	bucket := now.Unix() / 60
	key := "maca:ratelimit:ws:event:set_ready:u1:" + strconv.FormatInt(bucket, 10)
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	other := svc.Check(ctx, "ws:event:set_ready:u2", 3, time.Minute)
	assert.True(t, other.Allowed, "keys are independent")
}

func TestMemoryFallbackWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	now := time.Unix(1_700_000_000, 0)
	svc := ratelimit.NewService(rdb).WithClock(fixedClock(now))

	assert.True(t, svc.Check(context.Background(), "k", 1, 10*time.Second).Allowed)
	d := svc.Check(context.Background(), "k", 1, 10*time.Second)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.RetryAfter)
}

func TestMemoryWindowRolls(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	svc := ratelimit.NewService(nil).WithClock(clock)

	assert.True(t, svc.Check(context.Background(), "k", 1, time.Minute).Allowed)
	assert.False(t, svc.Check(context.Background(), "k", 1, time.Minute).Allowed)

	now = now.Add(61 * time.Second)
	assert.True(t, svc.Check(context.Background(), "k", 1, time.Minute).Allowed)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ws:connect:10.0.0.1", ratelimit.ConnectKey("10.0.0.1"))
	assert.Equal(t, "ws:event:take_turn_action:u1", ratelimit.EventKey("take_turn_action", "u1"))
}
