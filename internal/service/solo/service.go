package solo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"maca-service/internal/config"
	"maca-service/internal/service/game"
	"maca-service/internal/service/wallet"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// TableID tags solo rounds in the ledger and the round history.
	TableID = "solo"

	MaxActionIDs = 200
	Retention    = 10 * time.Minute

	maxParallelSweeps = 8

	StatusPlayerTurn = "player_turn"
	StatusCompleted  = "completed"

	ResultTimeout   = "timeout"
	ReasonForfeited = "timeout_forfeit"
)

type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ApplyBalanceDelta(ctx context.Context, adj wallet.Adjustment) (int64, error)
	AppendRoundHistory(ctx context.Context, settlement *game.Settlement) error
}

type Reconciler interface {
	EnqueueReconciliation(ctx context.Context, adj wallet.Adjustment, cause error) error
}

// View is what the player sees of a solo round.
type View struct {
	RoundID          string     `json:"roundId"`
	Status           string     `json:"status"`
	Bet              int64      `json:"bet"`
	Result           string     `json:"result,omitempty"`
	Payout           *int64     `json:"payout"`
	Balance          *int64     `json:"balance,omitempty"`
	Message          string     `json:"message,omitempty"`
	SettlementFailed bool       `json:"settlementFailed,omitempty"`
	State            game.State `json:"state"`
	CreatedAt        time.Time  `json:"createdAt"`
	EndedAt          *time.Time `json:"endedAt"`
}

type session struct {
	userID    string
	round     *game.Round
	bet       int64
	createdAt time.Time
	endedAt   time.Time
	done      bool
	result    string
	payout    int64
	balance   *int64
	message   string
}

// account holds one user's rounds. Its mutex serializes that user's calls,
// ledger I/O included, so a slow write never blocks other players.
type account struct {
	mu       sync.Mutex
	active   *session
	rounds   map[string]*session
	forced   *game.Shoe
	detached bool
}

func (a *account) idleLocked() bool {
	return a.active == nil && a.forced == nil && len(a.rounds) == 0
}

// Service runs single-player rounds against the dealer on the same engine as
// the tables. One round per user may be in play; finished rounds stay
// readable for Retention.
type Service struct {
	ledger     Ledger
	reconciler Reconciler
	cfg        config.GameConfig
	now        func() time.Time

	// mu guards the accounts map only; it is never held across an account lock.
	mu       sync.Mutex
	accounts map[string]*account
}

func NewService(ledger Ledger, reconciler Reconciler, cfg config.GameConfig) *Service {
	return &Service{
		ledger:     ledger,
		reconciler: reconciler,
		cfg:        cfg,
		now:        time.Now,
		accounts:   make(map[string]*account),
	}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) timeout() time.Duration {
	return time.Duration(s.cfg.SoloTimeoutSeconds) * time.Second
}

// lockAccount returns userID's account locked. An account pruned by the
// sweeper while we waited for it is detached, so look it up again.
func (s *Service) lockAccount(userID string) *account {
	for {
		s.mu.Lock()
		a := s.accounts[userID]
		if a == nil {
			a = &account{rounds: make(map[string]*session)}
			s.accounts[userID] = a
		}
		s.mu.Unlock()

		a.mu.Lock()
		if !a.detached {
			return a
		}
		a.mu.Unlock()
	}
}

// SetForcedShoe makes userID's next round deal drawOrder.
func (s *Service) SetForcedShoe(userID string, drawOrder []string) error {
	shoe, err := game.NewForcedShoe(drawOrder)
	if err != nil {
		return err
	}
	a := s.lockAccount(userID)
	a.forced = shoe
	a.mu.Unlock()
	return nil
}

// Start deals a new round for userID. The bet must be within the table
// limits and covered by the balance.
func (s *Service) Start(ctx context.Context, userID string, bet int64) (View, error) {
	if bet < s.cfg.MinBet || bet > s.cfg.MaxBet {
		return View{}, appErr.ErrInvalidBet
	}

	a := s.lockAccount(userID)
	defer a.mu.Unlock()
	s.tidyLocked(ctx, a)

	if a.active != nil {
		return View{}, appErr.ErrRoundAlreadyActive
	}
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if bet > balance {
		return View{}, appErr.ErrInsufficientBalance
	}

	shoe := a.forced
	a.forced = nil
	round, err := game.NewRound(game.Options{
		TableID:      TableID,
		TurnDuration: s.timeout(),
		Shoe:         shoe,
		MaxActionIDs: MaxActionIDs,
		Clock:        s.now,
	}, []game.Seat{{UserID: userID, Bet: bet, Balance: balance}})
	if err != nil {
		return View{}, err
	}

	sess := &session{userID: userID, round: round, bet: bet, createdAt: s.now()}
	a.rounds[round.ID()] = sess
	logger.Log.Info("solo round started",
		zap.String("userID", userID), zap.String("roundID", round.ID()), zap.Int64("bet", bet))

	a.active = sess
	if round.Finished() {
		s.finishLocked(ctx, a, sess)
	}
	return s.viewLocked(sess), nil
}

// Get returns one of userID's rounds.
func (s *Service) Get(ctx context.Context, userID, roundID string) (View, error) {
	a := s.lockAccount(userID)
	defer a.mu.Unlock()
	s.tidyLocked(ctx, a)

	sess, ok := a.rounds[roundID]
	if !ok {
		return View{}, appErr.ErrRoundNotFound
	}
	return s.viewLocked(sess), nil
}

// Current returns userID's round in play.
func (s *Service) Current(ctx context.Context, userID string) (View, error) {
	a := s.lockAccount(userID)
	defer a.mu.Unlock()
	s.tidyLocked(ctx, a)

	if a.active == nil {
		return View{}, appErr.ErrRoundNotFound
	}
	return s.viewLocked(a.active), nil
}

// Action applies one turn action. Acting on a finished round, or repeating
// an actionID, returns the round unchanged.
func (s *Service) Action(ctx context.Context, userID, roundID, rawAction, actionID string) (View, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID != "" && !game.ValidActionID(actionID) {
		return View{}, appErr.ErrInvalidActionID
	}
	action, err := game.ParseAction(rawAction)
	if err != nil {
		return View{}, err
	}

	a := s.lockAccount(userID)
	defer a.mu.Unlock()
	s.tidyLocked(ctx, a)

	sess, ok := a.rounds[roundID]
	if !ok {
		return View{}, appErr.ErrRoundNotFound
	}
	if sess.done || sess.round.SeenActionID(actionID) {
		return s.viewLocked(sess), nil
	}

	finished, err := sess.round.Apply(userID, action, false)
	if err != nil {
		return View{}, err
	}
	sess.round.RememberActionID(actionID)
	if finished {
		s.finishLocked(ctx, a, sess)
	}
	return s.viewLocked(sess), nil
}

// Sweep forfeits every expired round, drops stale finished ones and prunes
// idle accounts. Accounts are swept concurrently.
func (s *Service) Sweep(ctx context.Context) {
	s.mu.Lock()
	userIDs := make([]string, 0, len(s.accounts))
	for uid := range s.accounts {
		userIDs = append(userIDs, uid)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSweeps)
	for _, uid := range userIDs {
		uid := uid
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			s.sweepAccount(ctx, uid)
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Log.Warn("solo sweep interrupted", zap.Error(err))
	}
}

func (s *Service) sweepAccount(ctx context.Context, userID string) {
	a := s.lockAccount(userID)
	defer a.mu.Unlock()
	s.tidyLocked(ctx, a)
	if !a.idleLocked() {
		return
	}
	s.mu.Lock()
	if s.accounts[userID] == a {
		delete(s.accounts, userID)
	}
	a.detached = true
	s.mu.Unlock()
}

// Run sweeps on the table timer tick until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TimerTick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// tidyLocked forfeits the account's expired round and forgets finished
// rounds older than Retention.
func (s *Service) tidyLocked(ctx context.Context, a *account) {
	now := s.now()
	if a.active != nil && a.active.round.Expired(now) {
		s.forfeitLocked(ctx, a, a.active)
	}
	cutoff := now.Add(-Retention)
	for id, sess := range a.rounds {
		if sess.done && sess.endedAt.Before(cutoff) {
			delete(a.rounds, id)
		}
	}
}

// forfeitLocked ends a timed out round as a loss of everything committed:
// every hand bet plus any insurance. The engine never plays the dealer for it.
func (s *Service) forfeitLocked(ctx context.Context, a *account, sess *session) {
	now := s.now()
	result := game.PlayerResult{
		UserID:  sess.userID,
		Actions: append(sess.round.UserActions(sess.userID), "anti_cheat_timeout"),
	}
	if ps := sess.round.PlayerState(sess.userID); ps != nil {
		for _, h := range ps.Hands {
			result.Hands = append(result.Hands, game.HandOutcome{
				HandID:      h.ID,
				Cards:       append([]game.Card(nil), h.Cards...),
				Bet:         h.Bet,
				Score:       h.Score(),
				Result:      game.ResultLose,
				Payout:      -h.Bet,
				IsSplitHand: h.IsSplitHand,
				DoubledDown: h.DoubledDown,
			})
			result.TotalPayout -= h.Bet
		}
		if ps.InsuranceBet > 0 {
			result.InsuranceBet = ps.InsuranceBet
			result.InsurancePayout = -ps.InsuranceBet
			result.TotalPayout -= ps.InsuranceBet
		}
	}
	if len(result.Hands) == 0 {
		result.TotalPayout = -sess.bet
	}

	settlement := &game.Settlement{
		RoundID:     sess.round.ID(),
		TableID:     TableID,
		Reason:      ReasonForfeited,
		DealerCards: sess.round.DealerCards(),
		DealerScore: game.HandScore(sess.round.DealerCards()),
		StartedAt:   sess.createdAt,
		EndedAt:     now,
		Players:     []game.PlayerResult{result},
	}

	sess.result = ResultTimeout
	sess.message = "Round timed out. Dealer wins by forfeit."
	s.persistLocked(ctx, a, sess, settlement)
}

func (s *Service) finishLocked(ctx context.Context, a *account, sess *session) {
	settlement := sess.round.Settlement()
	if settlement == nil || len(settlement.Players) == 0 {
		return
	}
	sess.result, sess.message = outcome(settlement.Players[0], settlement.DealerScore)
	s.persistLocked(ctx, a, sess, settlement)
}

// persistLocked closes the session and writes its delta and history. A
// failed balance write is queued for reconciliation and flagged on the round.
func (s *Service) persistLocked(ctx context.Context, a *account, sess *session, settlement *game.Settlement) {
	if a.active == sess {
		a.active = nil
	}
	sess.done = true
	sess.endedAt = s.now()
	sess.payout = settlement.Players[0].TotalPayout

	log := logger.Log.With(zap.String("userID", sess.userID), zap.String("roundID", settlement.RoundID))
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout())
	defer cancel()

	adj := wallet.Adjustment{
		UserID:  sess.userID,
		Delta:   sess.payout,
		Type:    wallet.TypeSoloSettlement,
		RoundID: settlement.RoundID,
		Meta:    map[string]interface{}{"result": sess.result, "reason": settlement.Reason},
	}
	balance, err := s.ledger.ApplyBalanceDelta(pctx, adj)
	if err != nil {
		sess.round.MarkSettlementFailed()
		log.Error("solo settlement balance write failed", zap.Int64("delta", sess.payout), zap.Error(err))
		if s.reconciler != nil {
			if qerr := s.reconciler.EnqueueReconciliation(context.WithoutCancel(ctx), adj, err); qerr != nil {
				log.Error("reconciliation enqueue failed, delta lost", zap.Error(qerr))
			}
		}
	} else {
		sess.balance = &balance
	}
	if err := s.ledger.AppendRoundHistory(pctx, settlement); err != nil {
		log.Error("solo round history write failed", zap.Error(err))
	}
	log.Info("solo round settled", zap.String("result", sess.result), zap.Int64("payout", sess.payout))
}

// outcome names the round result after the first hand, and reports the
// net across hands.
func outcome(pr game.PlayerResult, dealerScore int) (string, string) {
	if len(pr.Hands) == 0 {
		return "", ""
	}
	if len(pr.Hands) > 1 {
		switch {
		case pr.TotalPayout > 0:
			return string(game.ResultWin), "Split hands finished ahead."
		case pr.TotalPayout < 0:
			return string(game.ResultLose), "Split hands finished behind."
		default:
			return string(game.ResultPush), "Split hands broke even."
		}
	}
	switch h := pr.Hands[0]; h.Result {
	case game.ResultBlackjack:
		return string(game.ResultBlackjack), "Blackjack! You win."
	case game.ResultBust:
		return string(game.ResultLose), "Bust. Dealer wins."
	case game.ResultSurrender:
		return string(game.ResultLose), "You surrendered half your bet."
	case game.ResultWin:
		if dealerScore > 21 {
			return string(game.ResultWin), "Dealer busts. You win."
		}
		return string(game.ResultWin), "You beat the dealer."
	case game.ResultLose:
		return string(game.ResultLose), "Dealer wins."
	default:
		return string(game.ResultPush), "Push."
	}
}

func (s *Service) viewLocked(sess *session) View {
	v := View{
		RoundID:          sess.round.ID(),
		Status:           StatusPlayerTurn,
		Bet:              sess.bet,
		State:            sess.round.State(),
		CreatedAt:        sess.createdAt,
		SettlementFailed: sess.round.SettlementFailed(),
	}
	if sess.done {
		ended := sess.endedAt
		payout := sess.payout
		v.Status = StatusCompleted
		v.Result = sess.result
		v.Payout = &payout
		v.Balance = sess.balance
		v.Message = sess.message
		v.EndedAt = &ended
	}
	if sess.result == ResultTimeout {
		v.State.AvailableActions = []game.Action{}
		v.State.RecommendedAction = ""
	}
	return v
}

// Recent lists userID's rounds still held in memory, newest first.
func (s *Service) Recent(userID string) []View {
	a := s.lockAccount(userID)
	defer a.mu.Unlock()
	out := make([]View, 0, len(a.rounds))
	for _, sess := range a.rounds {
		out = append(out, s.viewLocked(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
