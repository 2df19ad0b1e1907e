package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maca-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisTimeout = 500 * time.Millisecond

// Decision is the outcome of one counted hit.
type Decision struct {
	Allowed    bool `json:"allowed"`
	Limit      int  `json:"limit"`
	Remaining  int  `json:"remaining"`
	RetryAfter int  `json:"retryAfter"` // seconds, 0 when allowed
	ResetAfter int  `json:"resetAfter"`
}

type memoryBucket struct {
	count   int
	resetAt time.Time
}

// Service counts hits in fixed windows. Redis is authoritative when
// reachable; any redis error falls back to process-local counters.
type Service struct {
	rdb *redis.Client
	now func() time.Time

	mu       sync.Mutex
	counters map[string]*memoryBucket
}

func NewService(rdb *redis.Client) *Service {
	return &Service{rdb: rdb, now: time.Now, counters: make(map[string]*memoryBucket)}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Check counts one hit against key and reports whether it is within limit
// hits per window.
func (s *Service) Check(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit < 1 {
		limit = 1
	}
	windowSeconds := int(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	if s.rdb != nil {
		d, err := s.checkRedis(ctx, key, limit, windowSeconds)
		if err == nil {
			return d
		}
		logger.Log.Debug("rate limit redis unavailable, using memory", zap.String("key", key), zap.Error(err))
	}
	return s.checkMemory(key, limit, windowSeconds)
}

func (s *Service) checkRedis(ctx context.Context, key string, limit, windowSeconds int) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	bucket := s.now().Unix() / int64(windowSeconds)
	redisKey := fmt.Sprintf("maca:ratelimit:%s:%d", key, bucket)

	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttlCmd := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	ttl := int(ttlCmd.Val() / time.Second)
	if ttlCmd.Val() < 0 {
		if err := s.rdb.Expire(ctx, redisKey, time.Duration(windowSeconds+1)*time.Second).Err(); err != nil {
			return Decision{}, err
		}
		ttl = windowSeconds
	}
	if ttl < 1 {
		ttl = 1
	}
	return decide(count, limit, ttl), nil
}

func (s *Service) checkMemory(key string, limit, windowSeconds int) Decision {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, b := range s.counters {
		if now.After(b.resetAt.Add(time.Second)) {
			delete(s.counters, k)
		}
	}

	bucket := now.Unix() / int64(windowSeconds)
	bucketKey := fmt.Sprintf("%s:%d", key, bucket)
	b, ok := s.counters[bucketKey]
	if !ok {
		b = &memoryBucket{resetAt: time.Unix((bucket+1)*int64(windowSeconds), 0)}
		s.counters[bucketKey] = b
	}
	b.count++

	reset := int(b.resetAt.Sub(now) / time.Second)
	if reset < 1 {
		reset = 1
	}
	return decide(b.count, limit, reset)
}

func decide(count, limit, reset int) Decision {
	d := Decision{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  limit - count,
		ResetAfter: reset,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = reset
	}
	return d
}

// ConnectKey and EventKey build the keys used by the websocket boundary.
func ConnectKey(clientIP string) string {
	return "ws:connect:" + clientIP
}

func EventKey(event, userID string) string {
	return "ws:event:" + event + ":" + userID
}
