package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ReconcileQueueKey   = "maca:settlement:reconcile"
	maxReconcileAttempt = 10
	reconcileBatch      = 50
)

// ReconcileItem is a settlement delta that could not be written when the
// round ended.
type ReconcileItem struct {
	Adjustment
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// reconcileQueue is a FIFO on a redis list, or in memory without redis.
type reconcileQueue struct {
	rdb *redis.Client

	mu    sync.Mutex
	items []ReconcileItem
}

func newReconcileQueue(rdb *redis.Client) *reconcileQueue {
	return &reconcileQueue{rdb: rdb}
}

func (q *reconcileQueue) push(ctx context.Context, item ReconcileItem) error {
	if q.rdb == nil {
		q.mu.Lock()
		q.items = append(q.items, item)
		q.mu.Unlock()
		return nil
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, ReconcileQueueKey, raw).Err()
}

func (q *reconcileQueue) pop(ctx context.Context) (*ReconcileItem, error) {
	if q.rdb == nil {
		q.mu.Lock()
		defer q.mu.Unlock()
		if len(q.items) == 0 {
			return nil, nil
		}
		item := q.items[0]
		q.items = q.items[1:]
		return &item, nil
	}
	raw, err := q.rdb.RPop(ctx, ReconcileQueueKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var item ReconcileItem
	if err := json.Unmarshal(raw, &item); err != nil {
		logger.Log.Error("dropping malformed reconcile item", zap.ByteString("raw", raw), zap.Error(err))
		return nil, nil
	}
	return &item, nil
}

func (q *reconcileQueue) length(ctx context.Context) (int64, error) {
	if q.rdb == nil {
		q.mu.Lock()
		defer q.mu.Unlock()
		return int64(len(q.items)), nil
	}
	return q.rdb.LLen(ctx, ReconcileQueueKey).Result()
}

// EnqueueReconciliation parks a delta that failed to persist so the
// reconciler can retry it.
func (s *Service) EnqueueReconciliation(ctx context.Context, adj Adjustment, cause error) error {
	item := ReconcileItem{Adjustment: adj, EnqueuedAt: time.Now()}
	if cause != nil {
		item.LastError = cause.Error()
	}
	return s.queue.push(ctx, item)
}

func (s *Service) PendingReconciliations(ctx context.Context) (int64, error) {
	return s.queue.length(ctx)
}

// ReconcileOnce retries up to one batch of queued deltas and returns how many
// were applied. Items that fail again go to the back of the queue until they
// run out of attempts; unknown users are dropped.
func (s *Service) ReconcileOnce(ctx context.Context) (int, error) {
	applied := 0
	for i := 0; i < reconcileBatch; i++ {
		item, err := s.queue.pop(ctx)
		if err != nil {
			return applied, err
		}
		if item == nil {
			return applied, nil
		}

		meta := copyMeta(item.Meta)
		meta["reconciled"] = true
		meta["attempts"] = item.Attempts + 1
		adj := item.Adjustment
		adj.Meta = meta

		if _, err := s.ApplyBalanceDelta(ctx, adj); err != nil {
			item.Attempts++
			item.LastError = err.Error()
			if errors.Is(err, appErr.ErrUserNotFound) || item.Attempts >= maxReconcileAttempt {
				logger.Log.Error("giving up on settlement reconciliation",
					zap.String("userID", item.UserID),
					zap.String("roundID", item.RoundID),
					zap.Int64("delta", item.Delta),
					zap.Int("attempts", item.Attempts),
					zap.Error(err),
				)
				continue
			}
			if pushErr := s.queue.push(ctx, *item); pushErr != nil {
				return applied, pushErr
			}
			// One failure per pass is enough; the store is likely still down.
			return applied, err
		}
		applied++
		logger.Log.Info("settlement delta reconciled",
			zap.String("userID", item.UserID),
			zap.String("roundID", item.RoundID),
			zap.Int64("delta", item.Delta),
		)
	}
	return applied, nil
}

// RunReconciler drains the queue every interval until ctx is cancelled.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Warn("settlement reconciliation pass failed", zap.Error(err))
			}
		}
	}
}
