package solo_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"maca-service/internal/config"
	"maca-service/internal/model"
	"maca-service/internal/service/solo"
	walletsvc "maca-service/internal/service/wallet"
	appErr "maca-service/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// brokenLedger reads balances from the wallet but refuses every write.
type brokenLedger struct {
	*walletsvc.Service
}

func (brokenLedger) ApplyBalanceDelta(context.Context, walletsvc.Adjustment) (int64, error) {
	return 0, errors.New("connection reset")
}

// stallingLedger blocks balance reads of one user until released.
type stallingLedger struct {
	*walletsvc.Service
	userID  string
	entered chan struct{}
	release chan struct{}
}

func (l stallingLedger) GetBalance(ctx context.Context, userID string) (int64, error) {
	if userID == l.userID {
		close(l.entered)
		<-l.release
	}
	return l.Service.GetBalance(ctx, userID)
}

type fixture struct {
	db     *gorm.DB
	wallet *walletsvc.Service
	svc    *solo.Service
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.BalanceLog{}, &model.RoundHistory{}))
	require.NoError(t, db.Create(&model.User{ID: "u1", Username: "ada", Role: model.RolePlayer, Balance: 5000}).Error)
	require.NoError(t, db.Create(&model.User{ID: "u2", Username: "grace", Role: model.RolePlayer, Balance: 5000}).Error)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	wallet := walletsvc.NewService(db, rdb)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	svc := solo.NewService(wallet, wallet, config.DefaultGameConfig()).WithClock(clock.Now)
	return &fixture{db: db, wallet: wallet, svc: svc, clock: clock}
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.wallet.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestStandSettlesThroughWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetForcedShoe("u1", []string{"10H", "9C", "8S", "7D", "10C"}))

	view, err := f.svc.Start(ctx, "u1", 1000)
	require.NoError(t, err)
	assert.Equal(t, solo.StatusPlayerTurn, view.Status)
	assert.Nil(t, view.Payout)
	assert.True(t, view.State.DealerHidden)
	assert.Equal(t, 18, view.State.PlayerStates["u1"].Hands[0].Score)

	current, err := f.svc.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, view.RoundID, current.RoundID)

	view, err = f.svc.Action(ctx, "u1", view.RoundID, "stand", "s1")
	require.NoError(t, err)
	assert.Equal(t, solo.StatusCompleted, view.Status)
	assert.Equal(t, "win", view.Result)
	assert.Equal(t, "Dealer busts. You win.", view.Message)
	require.NotNil(t, view.Payout)
	assert.Equal(t, int64(1000), *view.Payout)
	require.NotNil(t, view.Balance)
	assert.Equal(t, int64(6000), *view.Balance)
	assert.Equal(t, int64(6000), f.balance(t, "u1"))

	_, err = f.svc.Current(ctx, "u1")
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)

	rows, err := f.wallet.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, solo.TableID, rows[0].TableID)
	assert.Equal(t, "win", rows[0].Result)

	var logs []model.BalanceLog
	require.NoError(t, f.db.Where("user_id = ?", "u1").Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, walletsvc.TypeSoloSettlement, logs[0].Type)
}

func TestDuplicateActionIDIsNotReapplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetForcedShoe("u1", []string{"10H", "9C", "2S", "7D", "3C", "10D"}))

	view, err := f.svc.Start(ctx, "u1", 1000)
	require.NoError(t, err)

	view, err = f.svc.Action(ctx, "u1", view.RoundID, "hit", "a1")
	require.NoError(t, err)
	assert.Len(t, view.State.PlayerStates["u1"].Hands[0].Cards, 3)

	view, err = f.svc.Action(ctx, "u1", view.RoundID, "hit", "a1")
	require.NoError(t, err)
	assert.Len(t, view.State.PlayerStates["u1"].Hands[0].Cards, 3)
	assert.Equal(t, 15, view.State.PlayerStates["u1"].Hands[0].Score)

	view, err = f.svc.Action(ctx, "u1", view.RoundID, "stand", "a2")
	require.NoError(t, err)
	assert.Equal(t, solo.StatusCompleted, view.Status)
	assert.Equal(t, "win", view.Result)

	again, err := f.svc.Action(ctx, "u1", view.RoundID, "hit", "a3")
	require.NoError(t, err, "finished rounds answer with their final view")
	assert.Equal(t, view.Payout, again.Payout)
	assert.Equal(t, int64(6000), f.balance(t, "u1"))
}

func TestStartRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "u1", 50)
	assert.ErrorIs(t, err, appErr.ErrInvalidBet)
	_, err = f.svc.Start(ctx, "u1", 6000)
	assert.ErrorIs(t, err, appErr.ErrInsufficientBalance)
	_, err = f.svc.Start(ctx, "ghost", 1000)
	assert.ErrorIs(t, err, appErr.ErrUserNotFound)

	require.NoError(t, f.svc.SetForcedShoe("u1", []string{"10H", "9C", "2S", "7D"}))
	view, err := f.svc.Start(ctx, "u1", 1000)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, "u1", 1000)
	assert.ErrorIs(t, err, appErr.ErrRoundAlreadyActive)

	_, err = f.svc.Get(ctx, "u2", view.RoundID)
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)
	_, err = f.svc.Action(ctx, "u2", view.RoundID, "hit", "")
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)
	_, err = f.svc.Action(ctx, "u1", view.RoundID, "fold", "")
	assert.ErrorIs(t, err, appErr.ErrInvalidAction)
	_, err = f.svc.Action(ctx, "u1", view.RoundID, "hit", "not valid!")
	assert.ErrorIs(t, err, appErr.ErrInvalidActionID)
}

func TestTimeoutForfeitsBet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetForcedShoe("u1", []string{"10H", "9C", "2S", "7D"}))

	view, err := f.svc.Start(ctx, "u1", 1000)
	require.NoError(t, err)

	f.clock.Advance(44 * time.Second)
	_, err = f.svc.Current(ctx, "u1")
	require.NoError(t, err, "still inside the action window")

	f.clock.Advance(2 * time.Second)
	_, err = f.svc.Current(ctx, "u1")
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)

	view, err = f.svc.Get(ctx, "u1", view.RoundID)
	require.NoError(t, err)
	assert.Equal(t, solo.StatusCompleted, view.Status)
	assert.Equal(t, solo.ResultTimeout, view.Result)
	assert.Equal(t, "Round timed out. Dealer wins by forfeit.", view.Message)
	require.NotNil(t, view.Payout)
	assert.Equal(t, int64(-1000), *view.Payout)
	assert.Empty(t, view.State.AvailableActions)
	assert.Equal(t, int64(4000), f.balance(t, "u1"))

	rows, err := f.wallet.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "lose", rows[0].Result)

	// A fresh round is allowed once the old one has been forfeited.
	_, err = f.svc.Start(ctx, "u1", 1000)
	assert.NoError(t, err)
}

func TestTimeoutForfeitsInsuranceToo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetForcedShoe("u1", []string{"10H", "AS", "8D", "9C"}))

	view, err := f.svc.Start(ctx, "u1", 1000)
	require.NoError(t, err)
	view, err = f.svc.Action(ctx, "u1", view.RoundID, "insurance", "i1")
	require.NoError(t, err)
	require.Equal(t, solo.StatusPlayerTurn, view.Status)

	f.clock.Advance(2 * time.Minute)
	f.svc.Sweep(ctx)

	view, err = f.svc.Get(ctx, "u1", view.RoundID)
	require.NoError(t, err)
	assert.Equal(t, solo.ResultTimeout, view.Result)
	require.NotNil(t, view.Payout)
	assert.Equal(t, int64(-1500), *view.Payout)
	assert.Equal(t, int64(3500), f.balance(t, "u1"))

	var logs []model.BalanceLog
	require.NoError(t, f.db.Where("user_id = ?", "u1").Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(-1500), logs[0].Delta)

	rows, err := f.wallet.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var sum int64
	for _, r := range rows {
		assert.Equal(t, "lose", r.Result)
		sum += r.Payout
	}
	assert.Equal(t, logs[0].Delta, sum)
}

func TestSweepForfeitsIdleRounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetForcedShoe("u2", []string{"10H", "9C", "2S", "7D"}))
	_, err := f.svc.Start(ctx, "u2", 500)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.svc.Sweep(ctx)
	assert.Equal(t, int64(4500), f.balance(t, "u2"))

	recent := f.svc.Recent("u2")
	require.Len(t, recent, 1)
	assert.Equal(t, solo.ResultTimeout, recent[0].Result)
}

func TestNaturalSettlesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetForcedShoe("u1", []string{"AH", "9C", "KS", "7D"}))

	view, err := f.svc.Start(ctx, "u1", 1000)
	require.NoError(t, err)
	assert.Equal(t, solo.StatusCompleted, view.Status)
	assert.Equal(t, "blackjack", view.Result)
	require.NotNil(t, view.Payout)
	assert.Equal(t, int64(1500), *view.Payout)
	assert.False(t, view.State.DealerHidden)
	assert.Equal(t, int64(6500), f.balance(t, "u1"))

	_, err = f.svc.Current(ctx, "u1")
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)

	f.clock.Advance(solo.Retention + time.Second)
	_, err = f.svc.Get(ctx, "u1", view.RoundID)
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound, "finished rounds expire from memory")
}

func TestSettlementFailureIsQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := solo.NewService(brokenLedger{f.wallet}, f.wallet, config.DefaultGameConfig()).WithClock(f.clock.Now)
	require.NoError(t, svc.SetForcedShoe("u1", []string{"AH", "9C", "KS", "7D"}))

	view, err := svc.Start(ctx, "u1", 1000)
	require.NoError(t, err)
	assert.True(t, view.SettlementFailed)
	assert.Nil(t, view.Balance)
	assert.Equal(t, int64(5000), f.balance(t, "u1"))

	pending, err := f.wallet.PendingReconciliations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	applied, err := f.wallet.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(6500), f.balance(t, "u1"))
}

func TestSlowLedgerOnlyStallsItsOwnUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := stallingLedger{Service: f.wallet, userID: "u1", entered: make(chan struct{}), release: make(chan struct{})}
	svc := solo.NewService(ledger, f.wallet, config.DefaultGameConfig()).WithClock(f.clock.Now)
	require.NoError(t, svc.SetForcedShoe("u2", []string{"10H", "9C", "2S", "7D"}))

	started := make(chan error, 1)
	go func() {
		_, err := svc.Start(ctx, "u1", 1000)
		started <- err
	}()
	<-ledger.entered

	done := make(chan error, 1)
	go func() {
		_, err := svc.Start(ctx, "u2", 1000)
		if err == nil {
			_, err = svc.Current(ctx, "u2")
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("u2 was blocked behind u1's ledger call")
	}

	close(ledger.release)
	require.NoError(t, <-started)
}
