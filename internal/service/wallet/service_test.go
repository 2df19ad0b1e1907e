package wallet_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"maca-service/internal/model"
	"maca-service/internal/service/game"
	walletsvc "maca-service/internal/service/wallet"
	appErr "maca-service/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.BalanceLog{}, &model.RoundHistory{}); err != nil {
		t.Fatalf("failed to migrate wallet models: %v", err)
	}
	return db
}

func newTestService(t *testing.T, withRedis bool) (*gorm.DB, *walletsvc.Service, *miniredis.Miniredis) {
	t.Helper()

	db := newTestDB(t)
	if !withRedis {
		return db, walletsvc.NewService(db, nil), nil
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return db, walletsvc.NewService(db, rdb), mr
}

func createUser(t *testing.T, db *gorm.DB, id string, balance int64) {
	t.Helper()
	if err := db.Create(&model.User{ID: id, Username: "user-" + id, Role: model.RolePlayer, Balance: balance}).Error; err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
}

func TestApplyBalanceDeltaWritesLog(t *testing.T) {
	db, svc, _ := newTestService(t, false)
	createUser(t, db, "u1", 5000)

	after, err := svc.ApplyBalanceDelta(context.Background(), walletsvc.Adjustment{
		UserID: "u1", Delta: 1500, Type: walletsvc.TypeRoundSettlement, RoundID: "r1",
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if after != 6500 {
		t.Fatalf("expected 6500, got %d", after)
	}

	var logs []model.BalanceLog
	if err := db.Where("user_id = ?", "u1").Find(&logs).Error; err != nil {
		t.Fatalf("failed to load logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Delta != 1500 || logs[0].BalanceAfter != 6500 || logs[0].RoundID != "r1" {
		t.Fatalf("unexpected balance logs %+v", logs)
	}
}

func TestApplyBalanceDeltaClampsAtZero(t *testing.T) {
	db, svc, _ := newTestService(t, false)
	createUser(t, db, "u1", 700)

	after, err := svc.ApplyBalanceDelta(context.Background(), walletsvc.Adjustment{UserID: "u1", Delta: -2000, Type: walletsvc.TypeRoundSettlement})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if after != 0 {
		t.Fatalf("balance must clamp at zero, got %d", after)
	}
	balance, err := svc.GetBalance(context.Background(), "u1")
	if err != nil || balance != 0 {
		t.Fatalf("expected stored balance 0, got %d (%v)", balance, err)
	}

	var entry model.BalanceLog
	if err := db.Where("user_id = ?", "u1").First(&entry).Error; err != nil {
		t.Fatalf("failed to load log: %v", err)
	}
	if entry.Delta != -700 {
		t.Fatalf("log should carry the applied delta, got %d", entry.Delta)
	}
}

func TestUnknownUser(t *testing.T) {
	_, svc, _ := newTestService(t, false)

	if _, err := svc.GetBalance(context.Background(), "ghost"); !errors.Is(err, appErr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.ApplyBalanceDelta(context.Background(), walletsvc.Adjustment{UserID: "ghost", Delta: 10}); !errors.Is(err, appErr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSetBalance(t *testing.T) {
	db, svc, _ := newTestService(t, false)
	createUser(t, db, "u1", 100)

	if _, err := svc.SetBalance(context.Background(), "u1", -1, nil); !errors.Is(err, appErr.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	after, err := svc.SetBalance(context.Background(), "u1", 25000, map[string]interface{}{"actor": "admin"})
	if err != nil || after != 25000 {
		t.Fatalf("set balance failed: %d %v", after, err)
	}
	balance, _ := svc.GetBalance(context.Background(), "u1")
	if balance != 25000 {
		t.Fatalf("expected 25000, got %d", balance)
	}
}

func TestAppendRoundHistoryRecordsBustAsLose(t *testing.T) {
	db, svc, _ := newTestService(t, false)

	settlement := &game.Settlement{
		RoundID: "r1",
		TableID: "t1",
		Players: []game.PlayerResult{
			{UserID: "u1", Hands: []game.HandOutcome{
				{HandID: "h1", Bet: 1000, Result: game.ResultBust, Payout: -1000, Cards: []game.Card{"10H", "9D", "5C"}},
				{HandID: "h2", Bet: 1000, Result: game.ResultWin, Payout: 1000},
			}},
			{UserID: "u2", Hands: []game.HandOutcome{
				{HandID: "h3", Bet: 1000, Result: game.ResultSurrender, Payout: -500},
			}},
		},
	}
	if err := svc.AppendRoundHistory(context.Background(), settlement); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	var rows []model.RoundHistory
	if err := db.Order("id asc").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Result != "lose" || rows[1].Result != "win" || rows[2].Result != "lose" {
		t.Fatalf("unexpected results %s %s %s", rows[0].Result, rows[1].Result, rows[2].Result)
	}

	history, err := svc.History(context.Background(), "u1", 10)
	if err != nil || len(history) != 2 || history[0].HandID != "h2" {
		t.Fatalf("unexpected history %+v (%v)", history, err)
	}
}

func TestReconcileQueueOnRedis(t *testing.T) {
	db, svc, mr := newTestService(t, true)
	createUser(t, db, "u1", 1000)
	ctx := context.Background()

	if err := svc.EnqueueReconciliation(ctx, walletsvc.Adjustment{UserID: "u1", Delta: 500, Type: walletsvc.TypeRoundSettlement, RoundID: "r1"}, errors.New("timeout")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := svc.EnqueueReconciliation(ctx, walletsvc.Adjustment{UserID: "ghost", Delta: 500, Type: walletsvc.TypeRoundSettlement}, nil); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !mr.Exists(walletsvc.ReconcileQueueKey) {
		t.Fatalf("expected queue key in redis")
	}

	applied, err := svc.ReconcileOnce(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}
	balance, _ := svc.GetBalance(ctx, "u1")
	if balance != 1500 {
		t.Fatalf("expected reconciled balance 1500, got %d", balance)
	}
	pending, err := svc.PendingReconciliations(ctx)
	if err != nil || pending != 0 {
		t.Fatalf("unknown users are dropped, pending=%d err=%v", pending, err)
	}
}

func TestReconcileQueueInMemory(t *testing.T) {
	db, svc, _ := newTestService(t, false)
	createUser(t, db, "u1", 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.EnqueueReconciliation(ctx, walletsvc.Adjustment{UserID: "u1", Delta: 100, Type: walletsvc.TypeRoundSettlement}, nil); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	applied, err := svc.ReconcileOnce(ctx)
	if err != nil || applied != 3 {
		t.Fatalf("expected 3 applied, got %d (%v)", applied, err)
	}
	balance, _ := svc.GetBalance(ctx, "u1")
	if balance != 300 {
		t.Fatalf("expected 300, got %d", balance)
	}
}
