package table

import (
	"strings"

	"maca-service/internal/model"
	"maca-service/internal/service/game"
	"maca-service/internal/service/lobby"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
)

type SpectateResult struct {
	TableID string `json:"tableId"`
	Mode    string `json:"mode"` // player or spectator
}

// CreateTable opens a table owned by the caller, pulling them out of any
// table they sat at before.
func (m *Manager) CreateTable(connID string, req lobby.CreateRequest) (TableView, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return TableView{}, err
	}
	change, err := m.lobby.Create(identity.UserID, req)
	if err != nil {
		return TableView{}, err
	}
	logger.Table(change.Table.ID).Info("table created",
		zap.String("ownerID", identity.UserID),
		zap.Int("maxPlayers", change.Table.MaxPlayers),
		zap.Bool("private", change.Table.IsPrivate))

	return m.afterSeated(connID, identity, change), nil
}

// JoinTable seats the caller by table id or invite code.
func (m *Manager) JoinTable(connID, tableID, inviteCode string) (TableView, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return TableView{}, err
	}
	tableID = strings.TrimSpace(tableID)
	inviteCode = strings.TrimSpace(inviteCode)

	var t lobby.Table
	var ok bool
	switch {
	case tableID != "":
		t, ok = m.lobby.Get(tableID)
	case inviteCode != "":
		t, ok = m.lobby.GetByInvite(inviteCode)
	default:
		return TableView{}, appErr.ErrInvalidPayload
	}
	if !ok {
		return TableView{}, appErr.ErrTableNotFound
	}

	member := m.lobby.IsMember(t.ID, identity.UserID)
	if t.IsPrivate && !member && !strings.EqualFold(inviteCode, t.InviteCode) {
		return TableView{}, appErr.ErrTablePrivate
	}

	rt := m.runtime(t.ID)
	rt.mu.Lock()
	switch {
	case rt.locked && !member && !identity.Role.AtLeast(model.RoleMod):
		err = appErr.ErrTableLocked
	case rt.banned[identity.UserID]:
		err = appErr.ErrBannedFromTable
	case rt.activeLocked() && !member:
		err = appErr.ErrGameInProgress
	}
	rt.mu.Unlock()
	if err != nil {
		return TableView{}, err
	}

	change, err := m.lobby.Join(t.ID, identity.UserID)
	if err != nil {
		return TableView{}, err
	}
	return m.afterSeated(connID, identity, change), nil
}

// afterSeated finishes a create or join: the tables the user left lose them,
// emptied tables close, spectating stops and everyone sees the new state.
func (m *Manager) afterSeated(connID string, identity Identity, change lobby.Change) TableView {
	deleted := make(map[string]bool, len(change.Deleted))
	for _, id := range change.Deleted {
		deleted[id] = true
		m.closeRuntime(id, nil)
	}
	for _, id := range change.Left {
		if deleted[id] {
			continue
		}
		m.playerLeft(id, identity.UserID)
	}

	for _, id := range m.stopSpectating(identity.UserID, "") {
		if id != change.Table.ID {
			m.emitTable(id)
		}
	}

	tableID := change.Table.ID
	rt := m.runtime(tableID)
	rt.mu.Lock()
	rt.clearReadyLocked(identity.UserID)
	rt.mu.Unlock()

	m.presence.SendToUser(identity.UserID, EventTableJoined, map[string]string{"tableId": tableID})
	m.emitTable(tableID)
	m.sendTableDetails(connID, tableID)
	m.broadcastLobby()

	logger.Table(tableID).Info("player seated",
		zap.String("userID", identity.UserID),
		zap.Strings("left", change.Left),
		zap.Strings("deleted", change.Deleted))

	t, _ := m.lobby.Get(tableID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return m.tableViewLocked(rt, t, identity.UserID)
}

// playerLeft updates the runtime of a table userID is no longer seated at.
func (m *Manager) playerLeft(tableID, userID string) {
	rt := m.existingRuntime(tableID)
	if rt == nil {
		m.emitTable(tableID)
		return
	}
	players := m.players(tableID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	m.playerLeftLocked(rt, userID, players)
	m.emitTableLocked(rt, players)
}

// playerLeftLocked clears the user's ready state and pulls them out of the
// running round. Below two players the round is abandoned without
// settlement; otherwise the turn moves on.
func (m *Manager) playerLeftLocked(rt *Runtime, userID string, audience []string) {
	rt.clearReadyLocked(userID)
	if !rt.activeLocked() || !rt.round.HasPlayer(userID) {
		return
	}
	out := rt.round.RemovePlayer(userID, MinPlayers)
	switch {
	case out.BelowMinimum:
		m.stopGameLocked(rt, ReasonNotEnoughPlayers, audience)
	case out.Settled:
		m.finishRoundLocked(rt, audience)
	case out.WasCurrent:
		m.broadcast(rt.tableID, audience, EventTurnSkipped, map[string]interface{}{
			"tableId":        rt.tableID,
			"userId":         userID,
			"reason":         ReasonPlayerLeft,
			"nextTurnUserId": rt.round.CurrentTurnUserID(),
		})
	}
}

// stopGameLocked discards the running round without settling it. No
// balance moves since bets are only charged at settlement.
func (m *Manager) stopGameLocked(rt *Runtime, reason string, audience []string) {
	if rt.round == nil {
		return
	}
	roundID := rt.round.ID()
	rt.round = nil
	rt.bets = make(map[string]int64)
	rt.forcedShoe = nil

	logger.Table(rt.tableID).Info("table game stopped", zap.String("roundID", roundID), zap.String("reason", reason))
	m.broadcast(rt.tableID, audience, EventTableGameEnded, map[string]interface{}{
		"tableId": rt.tableID,
		"roundId": roundID,
		"reason":  reason,
	})
	m.broadcast(rt.tableID, audience, EventTableGameState, game.IdleState(rt.tableID, m.cfg.TurnSeconds))
}

// removeFromTable unseats userID from tableID and tells them so.
func (m *Manager) removeFromTable(tableID, userID string) bool {
	if !m.lobby.IsMember(tableID, userID) {
		return false
	}
	if _, exists := m.lobby.Leave(tableID, userID); exists {
		m.playerLeft(tableID, userID)
	} else {
		m.closeRuntime(tableID, nil)
	}
	m.presence.SendToUser(userID, EventTableLeft, map[string]string{"tableId": tableID})
	logger.Table(tableID).Info("player left table", zap.String("userID", userID))
	return true
}

// stopSpectating detaches the user's spectating connections from tableID
// (any table when empty), notifies them, and returns the tables they left.
func (m *Manager) stopSpectating(userID, tableID string) []string {
	detached := m.presence.StopSpectatingForUser(userID, tableID)
	seen := make(map[string]bool)
	tables := make([]string, 0, len(detached))
	for _, d := range detached {
		d.Conn.Send(OutgoingMessage{Type: EventSpectatorLeft, Data: map[string]string{"tableId": d.TableID}})
		if !seen[d.TableID] {
			seen[d.TableID] = true
			tables = append(tables, d.TableID)
		}
	}
	return tables
}

// closeRuntime tears down the runtime of a table that no longer exists.
// audience is who sat there, when known.
func (m *Manager) closeRuntime(tableID string, audience []string) {
	if rt := m.dropRuntime(tableID); rt != nil {
		rt.mu.Lock()
		m.stopGameLocked(rt, ReasonTableClosed, audience)
		rt.mu.Unlock()
	}
	for _, c := range m.presence.StopAllSpectators(tableID) {
		c.Send(OutgoingMessage{Type: EventSpectatorLeft, Data: map[string]string{"tableId": tableID}})
		c.Send(OutgoingMessage{Type: EventTableClosed, Data: map[string]string{"tableId": tableID}})
	}
	m.broadcast(tableID, audience, EventTableClosed, map[string]string{"tableId": tableID})
}

// LeaveTable unseats the caller from tableID, or from the table they sit at.
func (m *Manager) LeaveTable(connID, tableID string) (string, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return "", err
	}
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		tableID = m.seatedTable(identity.UserID)
	}
	if tableID == "" {
		return "", nil
	}
	m.removeFromTable(tableID, identity.UserID)
	m.broadcastLobby()
	return tableID, nil
}

// SpectateTable attaches the caller's connection to tableID read-only. A
// player asking to watch their own table is simply re-attached as player.
func (m *Manager) SpectateTable(connID, tableID string) (SpectateResult, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return SpectateResult{}, err
	}
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return SpectateResult{}, appErr.ErrInvalidPayload
	}
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return SpectateResult{}, appErr.ErrTableNotFound
	}
	if rt := m.existingRuntime(tableID); rt != nil {
		rt.mu.Lock()
		banned := rt.banned[identity.UserID]
		rt.mu.Unlock()
		if banned {
			return SpectateResult{}, appErr.ErrBannedFromTable
		}
	}
	member := m.lobby.IsMember(tableID, identity.UserID)
	if t.IsPrivate && !member {
		return SpectateResult{}, appErr.ErrTablePrivate
	}

	mode := "spectator"
	next := tableID
	if member {
		mode = "player"
		next = ""
	}
	prev := m.presence.SetSpectating(connID, next)
	m.presence.SendToConn(connID, EventSpectatorJoined, SpectateResult{TableID: tableID, Mode: mode})
	if !member {
		m.emitTable(tableID)
	}
	m.sendTableDetails(connID, tableID)
	if prev != "" && prev != tableID {
		m.emitTable(prev)
	}
	if prev != next {
		m.broadcastLobby()
	}
	return SpectateResult{TableID: tableID, Mode: mode}, nil
}

// StopSpectating detaches the caller's connection from the table it watches.
func (m *Manager) StopSpectating(connID, tableID string) (string, error) {
	if _, err := m.identity(connID); err != nil {
		return "", err
	}
	tableID = strings.TrimSpace(tableID)
	current := m.presence.Spectating(connID)
	if current == "" && tableID == "" {
		return "", nil
	}
	if current != "" && tableID != "" && current != tableID {
		return "", appErr.ErrNotSpectating
	}
	if tableID == "" {
		tableID = current
	}
	m.presence.SetSpectating(connID, "")
	m.presence.SendToConn(connID, EventSpectatorLeft, map[string]string{"tableId": tableID})
	m.emitTable(tableID)
	m.broadcastLobby()
	return tableID, nil
}
