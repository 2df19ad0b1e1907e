package table

import (
	"errors"
	"strings"
	"time"

	"maca-service/internal/model"
	"maca-service/internal/service/game"
	"maca-service/internal/service/wallet"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
)

type ReadyResult struct {
	Ready bool   `json:"ready"`
	Bet   *int64 `json:"bet"`
}

type TurnResult struct {
	State     game.State `json:"state"`
	Duplicate bool       `json:"duplicate,omitempty"`
}

// SetReady marks the caller ready with a bet, or not ready. When every
// seated player of a table with at least two is ready the round starts.
func (m *Manager) SetReady(connID string, ready bool, bet int64) (ReadyResult, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return ReadyResult{}, err
	}
	tableID := m.seatedTable(identity.UserID)
	if tableID == "" {
		return ReadyResult{}, appErr.ErrNotSeated
	}
	bet = m.cfg.NormalizeBet(bet)

	rt := m.runtime(tableID)
	rt.mu.Lock()
	if rt.locked && !identity.Role.AtLeast(model.RoleMod) {
		rt.mu.Unlock()
		return ReadyResult{}, appErr.ErrTableLocked
	}
	if rt.activeLocked() {
		rt.mu.Unlock()
		return ReadyResult{}, appErr.ErrRoundAlreadyActive
	}
	if ready {
		rt.ready[identity.UserID] = true
		rt.bets[identity.UserID] = bet
	} else {
		rt.clearReadyLocked(identity.UserID)
	}

	t, ok := m.lobby.Get(tableID)
	if !ok {
		rt.mu.Unlock()
		return ReadyResult{}, appErr.ErrTableNotFound
	}
	m.broadcast(tableID, t.Players, EventTableSnapshot, m.tableViewLocked(rt, t, t.OwnerID))
	if rt.allReadyLocked(t.Players) {
		m.startRoundLocked(rt, t.Players)
	}
	rt.mu.Unlock()

	m.broadcastLobby()
	res := ReadyResult{Ready: ready}
	if ready {
		res.Bet = &bet
	}
	return res, nil
}

// startRoundLocked seats every ready player with their pending bet and a
// bankroll read from the ledger, then deals.
func (m *Manager) startRoundLocked(rt *Runtime, players []string) {
	ctx, cancel := m.persistContext()
	defer cancel()

	seats := make([]game.Seat, 0, len(players))
	for _, userID := range players {
		bet, ok := rt.bets[userID]
		if !ok {
			bet = m.cfg.DefaultBet
		}
		balance, err := m.ledger.GetBalance(ctx, userID)
		if err != nil {
			logger.Table(rt.tableID).Warn("balance lookup failed, seating with bet as bankroll",
				zap.String("userID", userID), zap.Error(err))
			balance = bet
		}
		seats = append(seats, game.Seat{UserID: userID, Bet: bet, Balance: balance})
	}

	round, err := game.NewRound(game.Options{
		TableID:      rt.tableID,
		TurnDuration: m.cfg.TurnDuration(),
		Shoe:         rt.forcedShoe,
		Clock:        m.now,
	}, seats)
	if err != nil {
		logger.Table(rt.tableID).Error("round start failed", zap.Error(err))
		return
	}
	rt.forcedShoe = nil
	rt.round = round
	rt.ready = make(map[string]bool)
	rt.bets = make(map[string]int64)

	logger.Table(rt.tableID).Info("round started",
		zap.String("roundID", round.ID()),
		zap.Strings("players", round.Players()))

	m.broadcast(rt.tableID, players, EventTableReadyToStart, map[string]string{"tableId": rt.tableID})
	m.broadcast(rt.tableID, players, EventTableGameStarted, round.State())
	if round.Finished() {
		m.finishRoundLocked(rt, players)
		return
	}
	m.emitTableLocked(rt, players)
}

// TakeTurnAction applies the caller's action to the round at their table.
// A repeated actionID is answered with the current state and not applied.
func (m *Manager) TakeTurnAction(connID, rawAction, actionID string) (TurnResult, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return TurnResult{}, err
	}
	actionID = strings.TrimSpace(actionID)
	if actionID != "" && !game.ValidActionID(actionID) {
		return TurnResult{}, appErr.ErrInvalidActionID
	}
	tableID := m.seatedTable(identity.UserID)
	if tableID == "" {
		return TurnResult{}, appErr.ErrNotSeated
	}
	players := m.players(tableID)

	rt := m.runtime(tableID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	m.expireTurnsLocked(rt, players, m.now())

	// Retries are answered before the turn check: the turn has usually moved
	// on by the time a client resends an action whose ack it lost.
	key := actionKey(identity.UserID, actionID)
	if rt.round != nil && rt.round.SeenActionID(key) {
		return TurnResult{State: rt.round.State(), Duplicate: true}, nil
	}
	if rt.round == nil && rt.lastRound != nil && rt.lastRound.SeenActionID(key) {
		return TurnResult{State: rt.lastRound.State(), Duplicate: true}, nil
	}

	if !rt.activeLocked() || rt.round.Phase() != game.PhasePlayerTurns {
		return TurnResult{}, appErr.ErrNoActiveRound
	}
	if rt.round.CurrentTurnUserID() != identity.UserID {
		return TurnResult{}, appErr.ErrNotYourTurn
	}
	action, err := game.ParseAction(rawAction)
	if err != nil {
		return TurnResult{}, err
	}

	finished, err := rt.round.Apply(identity.UserID, action, false)
	if err != nil {
		if errors.Is(err, appErr.ErrInvariantViolation) {
			logger.Table(tableID).Error("action refused on invariant violation",
				zap.String("userID", identity.UserID), zap.String("action", string(action)), zap.Error(err))
		}
		return TurnResult{}, err
	}
	rt.round.RememberActionID(key)

	m.broadcast(tableID, players, EventTurnActionApplied, map[string]interface{}{
		"tableId":        tableID,
		"userId":         identity.UserID,
		"action":         action,
		"actionId":       actionID,
		"nextTurnUserId": rt.round.CurrentTurnUserID(),
		"roundFinished":  finished,
	})
	if finished {
		return TurnResult{State: m.finishRoundLocked(rt, players)}, nil
	}
	m.emitTableLocked(rt, players)
	return TurnResult{State: rt.round.State()}, nil
}

// actionKey scopes an action id to the player who sent it. Empty ids are
// never remembered.
func actionKey(userID, actionID string) string {
	if actionID == "" {
		return ""
	}
	return userID + "/" + actionID
}

// finishRoundLocked persists a settled round and discards it. The round is
// settled in memory whatever the ledger does; deltas that fail to apply are
// queued for reconciliation and the round is flagged. It returns the
// resolved state that was broadcast.
func (m *Manager) finishRoundLocked(rt *Runtime, audience []string) game.State {
	round := rt.round
	settlement := round.Settlement()
	log := logger.Table(rt.tableID).With(zap.String("roundID", round.ID()))

	ctx, cancel := m.persistContext()
	defer cancel()

	for _, p := range settlement.Players {
		adj := wallet.Adjustment{
			UserID:  p.UserID,
			Delta:   p.TotalPayout,
			Type:    wallet.TypeRoundSettlement,
			RoundID: settlement.RoundID,
			Meta: map[string]interface{}{
				"tableId": rt.tableID,
				"reason":  settlement.Reason,
			},
		}
		balance, err := m.ledger.ApplyBalanceDelta(ctx, adj)
		if err != nil {
			round.MarkSettlementFailed()
			log.Error("settlement balance write failed",
				zap.String("userID", p.UserID), zap.Int64("delta", p.TotalPayout), zap.Error(err))
			m.enqueueReconciliation(adj, err, log)
			continue
		}
		m.presence.SendToUser(p.UserID, EventBalanceUpdated, map[string]interface{}{
			"userId":  p.UserID,
			"balance": balance,
		})
	}
	if err := m.ledger.AppendRoundHistory(ctx, settlement); err != nil {
		log.Error("round history write failed", zap.Error(err))
	}

	resolved := round.State()
	m.broadcast(rt.tableID, audience, EventTableRoundResolved, resolved)
	m.broadcast(rt.tableID, audience, EventTableGameEnded, map[string]interface{}{
		"tableId":          rt.tableID,
		"roundId":          round.ID(),
		"reason":           round.CompletionReason(),
		"settlementFailed": round.SettlementFailed(),
	})
	log.Info("round settled",
		zap.String("reason", round.CompletionReason()),
		zap.Bool("settlementFailed", round.SettlementFailed()))

	rt.lastSettlement = settlement
	rt.lastRound = round
	rt.round = nil
	m.emitTableLocked(rt, audience)
	return resolved
}

// enqueueReconciliation gets its own deadline: the settlement context may be
// the thing that expired.
func (m *Manager) enqueueReconciliation(adj wallet.Adjustment, cause error, log *zap.Logger) {
	if m.reconciler == nil {
		return
	}
	ctx, cancel := m.persistContext()
	defer cancel()
	if err := m.reconciler.EnqueueReconciliation(ctx, adj, cause); err != nil {
		log.Error("reconciliation enqueue failed, delta lost",
			zap.String("userID", adj.UserID), zap.Int64("delta", adj.Delta), zap.Error(err))
	}
}

// expireTurnsLocked auto-stands timed out turns. The loop is bounded in case
// the clock stays past every fresh deadline.
func (m *Manager) expireTurnsLocked(rt *Runtime, audience []string, now time.Time) {
	const maxTimeoutsPerPass = 8
	for i := 0; i < maxTimeoutsPerPass; i++ {
		if !rt.activeLocked() || !rt.round.Expired(now) {
			return
		}
		userID := rt.round.CurrentTurnUserID()
		if userID == "" {
			return
		}
		finished, err := rt.round.Apply(userID, game.ActionStand, true)
		if err != nil {
			logger.Table(rt.tableID).Warn("timeout stand rejected", zap.String("userID", userID), zap.Error(err))
			return
		}
		m.broadcast(rt.tableID, audience, EventTurnTimeout, map[string]string{"tableId": rt.tableID, "userId": userID})
		if finished {
			m.finishRoundLocked(rt, audience)
			return
		}
		m.broadcast(rt.tableID, audience, EventTableGameState, rt.round.State())
	}
}

// LastSettlement returns the most recent settled round of tableID.
func (m *Manager) LastSettlement(tableID string) *game.Settlement {
	rt := m.existingRuntime(tableID)
	if rt == nil {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastSettlement
}

// GameState returns the broadcast form of tableID's round, or idle.
func (m *Manager) GameState(tableID string) game.State {
	rt := m.existingRuntime(tableID)
	if rt == nil {
		return game.IdleState(tableID, m.cfg.TurnSeconds)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return m.gameStateLocked(rt)
}
