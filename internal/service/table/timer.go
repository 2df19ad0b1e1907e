package table

import (
	"context"
	"time"

	"maca-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxParallelSweeps bounds how many tables a timer pass works on at once.
const maxParallelSweeps = 8

// Run drives turn timeouts and reconnect evictions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TimerTick())
	defer ticker.Stop()

	logger.Log.Info("table timer started", zap.Duration("tick", m.cfg.TimerTick()))
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("table timer stopped")
			return
		case <-ticker.C:
			now := m.now()
			m.SweepTurnTimeouts(ctx, now)
			m.SweepReconnects(now)
		}
	}
}

// SweepReconnects unseats every user whose reconnect grace ran out.
func (m *Manager) SweepReconnects(now time.Time) {
	expired := m.presence.TakeExpiredReconnects(now)
	if len(expired) == 0 {
		return
	}
	for _, userID := range expired {
		for _, tableID := range m.lobby.TableIDsForUser(userID) {
			players := m.players(tableID)
			if _, exists := m.lobby.Leave(tableID, userID); exists {
				m.playerLeft(tableID, userID)
			} else {
				m.closeRuntime(tableID, nil)
			}
			m.broadcast(tableID, players, EventPlayerAutoRemoved, map[string]string{
				"tableId": tableID,
				"userId":  userID,
				"reason":  ReasonGraceExpired,
			})
			logger.Table(tableID).Info("player removed after reconnect grace", zap.String("userID", userID))
		}
	}
	m.broadcastLobby()
}

// SweepTurnTimeouts auto-stands expired turns, stops rounds that fell below
// two players and drops runtimes of tables that are gone.
func (m *Manager) SweepTurnTimeouts(ctx context.Context, now time.Time) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSweeps)

	for _, rt := range m.runtimeList() {
		rt := rt
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.sweepRuntime(rt, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Log.Warn("turn sweep interrupted", zap.Error(err))
	}
}

func (m *Manager) sweepRuntime(rt *Runtime, now time.Time) {
	t, exists := m.lobby.Get(rt.tableID)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !exists {
		if rt.round == nil {
			m.mu.Lock()
			if m.runtimes[rt.tableID] == rt {
				delete(m.runtimes, rt.tableID)
			}
			m.mu.Unlock()
			return
		}
		m.stopGameLocked(rt, ReasonTableClosed, nil)
		return
	}
	if !rt.activeLocked() {
		return
	}
	if len(t.Players) < MinPlayers || len(rt.round.Players()) < MinPlayers {
		m.stopGameLocked(rt, ReasonNotEnoughPlayers, t.Players)
		m.emitTableLocked(rt, t.Players)
		return
	}
	if rt.round.Expired(now) {
		m.expireTurnsLocked(rt, t.Players, now)
	}
}
