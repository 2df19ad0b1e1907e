package table

import (
	"fmt"
	"strings"
	"time"

	"maca-service/internal/model"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
)

// Moderation actions.
const (
	ModMute   = "mute"
	ModUnmute = "unmute"
	ModBan    = "ban"
	ModUnban  = "unban"
	ModKick   = "kick"
)

const (
	MuteDefault = 300 * time.Second
	MuteMin     = 10 * time.Second
	MuteMax     = 6 * time.Hour
)

// ClampMute bounds a requested mute; zero or negative means the default.
func ClampMute(seconds int) time.Duration {
	if seconds <= 0 {
		return MuteDefault
	}
	d := time.Duration(seconds) * time.Second
	if d < MuteMin {
		return MuteMin
	}
	if d > MuteMax {
		return MuteMax
	}
	return d
}

type ModerationRequest struct {
	TableID         string
	TargetUserID    string
	Action          string
	DurationSeconds int
}

// ModerateTableChat lets a table owner, or any mod, mute, unmute, ban or
// unban someone at their table.
func (m *Manager) ModerateTableChat(connID string, req ModerationRequest) (ModerationNotice, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return ModerationNotice{}, err
	}
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" {
		tableID = m.seatedTable(identity.UserID)
	}
	if tableID == "" {
		return ModerationNotice{}, fmt.Errorf("%w: tableId required", appErr.ErrInvalidPayload)
	}
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return ModerationNotice{}, appErr.ErrTableNotFound
	}
	if t.OwnerID != identity.UserID && !identity.Role.AtLeast(model.RoleMod) {
		return ModerationNotice{}, appErr.ErrNotTableManager
	}
	target := strings.TrimSpace(req.TargetUserID)
	if target == "" {
		return ModerationNotice{}, fmt.Errorf("%w: targetUserId required", appErr.ErrInvalidPayload)
	}
	if target == identity.UserID {
		return ModerationNotice{}, appErr.ErrSelfModeration
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	switch action {
	case ModMute, ModUnmute, ModBan, ModUnban:
	default:
		return ModerationNotice{}, fmt.Errorf("%w: invalid moderation action", appErr.ErrInvalidPayload)
	}
	return m.Moderate(tableID, identity.UserID, target, action, req.DurationSeconds)
}

// Moderate applies a chat moderation action. A ban also unseats the target
// and stops them spectating the table.
func (m *Manager) Moderate(tableID, actorID, targetID, action string, durationSeconds int) (ModerationNotice, error) {
	if _, ok := m.lobby.Get(tableID); !ok {
		return ModerationNotice{}, appErr.ErrTableNotFound
	}
	now := m.now()
	details := map[string]interface{}{}

	rt := m.runtime(tableID)
	rt.mu.Lock()
	switch action {
	case ModMute:
		d := ClampMute(durationSeconds)
		until := now.Add(d)
		rt.mutedUntil[targetID] = until
		details["durationSeconds"] = int(d / time.Second)
		details["muteUntil"] = until
	case ModUnmute:
		delete(rt.mutedUntil, targetID)
	case ModBan:
		rt.banned[targetID] = true
		delete(rt.mutedUntil, targetID)
	case ModUnban:
		delete(rt.banned, targetID)
	default:
		rt.mu.Unlock()
		return ModerationNotice{}, fmt.Errorf("%w: invalid moderation action", appErr.ErrInvalidPayload)
	}
	rt.mu.Unlock()

	if action == ModBan {
		m.removeFromTable(tableID, targetID)
		m.stopSpectating(targetID, tableID)
	}

	notice := ModerationNotice{
		TableID:      tableID,
		Action:       action,
		TargetUserID: targetID,
		ActorUserID:  actorID,
		At:           now,
		Details:      details,
	}
	m.publishModeration(tableID, notice)
	logger.Table(tableID).Info("moderation applied",
		zap.String("action", action),
		zap.String("actorID", actorID),
		zap.String("targetID", targetID))
	return notice, nil
}

// publishModeration tells the table and the target about a moderation
// change, then refreshes the table views.
func (m *Manager) publishModeration(tableID string, notice ModerationNotice) {
	players := m.players(tableID)
	m.broadcast(tableID, players, EventModerationNotice, notice)
	if !contains(players, notice.TargetUserID) {
		m.presence.SendToUser(notice.TargetUserID, EventModerationNotice, notice)
	}
	if rt := m.existingRuntime(tableID); rt != nil {
		rt.mu.Lock()
		m.emitTableLocked(rt, players)
		m.emitModerationLocked(rt, players)
		rt.mu.Unlock()
	}
	m.broadcastLobby()
}

// Kick unseats userID from tableID on a moderator's behalf.
func (m *Manager) Kick(tableID, actorID, userID string) error {
	if _, ok := m.lobby.Get(tableID); !ok {
		return appErr.ErrTableNotFound
	}
	if !m.removeFromTable(tableID, userID) {
		return appErr.ErrNotSeated
	}
	m.publishModeration(tableID, ModerationNotice{
		TableID:      tableID,
		Action:       ModKick,
		TargetUserID: userID,
		ActorUserID:  actorID,
		At:           m.now(),
		Details:      map[string]interface{}{},
	})
	return nil
}

// SetLocked locks or unlocks tableID. A locked table admits no new players
// and only mods may ready up.
func (m *Manager) SetLocked(tableID string, locked bool) error {
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return appErr.ErrTableNotFound
	}
	rt := m.runtime(tableID)
	rt.mu.Lock()
	rt.locked = locked
	m.emitTableLocked(rt, t.Players)
	rt.mu.Unlock()

	m.broadcastLobby()
	logger.Table(tableID).Info("table lock changed", zap.Bool("locked", locked))
	return nil
}

// EndRound abandons the active round of tableID without settlement.
func (m *Manager) EndRound(tableID string) error {
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return appErr.ErrTableNotFound
	}
	rt := m.runtime(tableID)
	rt.mu.Lock()
	if !rt.activeLocked() {
		rt.mu.Unlock()
		return appErr.ErrNoActiveRound
	}
	m.stopGameLocked(rt, ReasonAdminEndedRound, t.Players)
	m.emitTableLocked(rt, t.Players)
	rt.mu.Unlock()

	m.broadcastLobby()
	return nil
}

// CloseTable deletes tableID with everyone still seated.
func (m *Manager) CloseTable(tableID string) error {
	t, ok := m.lobby.Close(tableID)
	if !ok {
		return appErr.ErrTableNotFound
	}
	m.closeRuntime(tableID, t.Players)
	m.broadcastLobby()
	logger.Table(tableID).Info("table closed", zap.Strings("players", t.Players))
	return nil
}

// SpectateAs moves every connection of userID onto tableID as spectator.
func (m *Manager) SpectateAs(userID, tableID string) (int, error) {
	if _, ok := m.lobby.Get(tableID); !ok {
		return 0, appErr.ErrTableNotFound
	}
	connIDs := m.presence.ConnIDs(userID)
	if len(connIDs) == 0 {
		return 0, fmt.Errorf("%w: no active connection", appErr.ErrUnauthorized)
	}
	touched := make(map[string]bool)
	for _, connID := range connIDs {
		if prev := m.presence.SetSpectating(connID, tableID); prev != "" && prev != tableID {
			touched[prev] = true
		}
		m.presence.SendToConn(connID, EventSpectatorJoined, SpectateResult{TableID: tableID, Mode: "spectator"})
	}
	m.emitTable(tableID)
	for _, connID := range connIDs {
		m.sendTableDetails(connID, tableID)
	}
	for id := range touched {
		m.emitTable(id)
	}
	m.broadcastLobby()
	return len(connIDs), nil
}

// SeatedTable returns the table userID sits at, or "".
func (m *Manager) SeatedTable(userID string) string {
	return m.seatedTable(userID)
}

func (m *Manager) TableExists(tableID string) bool {
	_, ok := m.lobby.Get(tableID)
	return ok
}

// NotifyBalance pushes a balance change to the user's connections.
func (m *Manager) NotifyBalance(userID string, balance int64) {
	m.presence.SendToUser(userID, EventBalanceUpdated, map[string]interface{}{"userId": userID, "balance": balance})
}

// UpdateRole rewrites the role of the user's live connections and tells them.
func (m *Manager) UpdateRole(userID string, role model.Role) {
	m.presence.UpdateRole(userID, role)
	m.presence.SendToUser(userID, EventRoleUpdated, map[string]interface{}{"userId": userID, "role": role})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
