package table

import (
	"context"
	"sort"
	"sync"
	"time"

	"maca-service/internal/config"
	"maca-service/internal/service/game"
	"maca-service/internal/service/lobby"
	"maca-service/internal/service/wallet"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
)

// Ledger is the balance store used to seat and settle rounds.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ApplyBalanceDelta(ctx context.Context, adj wallet.Adjustment) (int64, error)
	AppendRoundHistory(ctx context.Context, settlement *game.Settlement) error
}

// Reconciler receives balance deltas that could not be applied.
type Reconciler interface {
	EnqueueReconciliation(ctx context.Context, adj wallet.Adjustment, cause error) error
}

type ChatFilter interface {
	Sanitize(message string) (clean string, filtered bool)
}

// Manager owns every table runtime and the presence tracker and implements
// the table operations behind the websocket events.
//
// Lock order is runtime, then presence or lobby. A goroutine never holds two
// runtimes at once, and m.mu only guards the runtime map.
type Manager struct {
	lobby      *lobby.Service
	presence   *Presence
	ledger     Ledger
	reconciler Reconciler
	filter     ChatFilter
	cfg        config.GameConfig
	now        func() time.Time

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

func NewManager(lobbySvc *lobby.Service, ledger Ledger, reconciler Reconciler, filter ChatFilter, cfg config.GameConfig) *Manager {
	return &Manager{
		lobby:      lobbySvc,
		presence:   NewPresence(),
		ledger:     ledger,
		reconciler: reconciler,
		filter:     filter,
		cfg:        cfg,
		now:        time.Now,
		runtimes:   make(map[string]*Runtime),
	}
}

// WithClock replaces the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Presence() *Presence { return m.presence }

func (m *Manager) Lobby() *lobby.Service { return m.lobby }

func (m *Manager) runtime(tableID string) *Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[tableID]
	if !ok {
		rt = newRuntime(tableID)
		m.runtimes[tableID] = rt
	}
	return rt
}

func (m *Manager) existingRuntime(tableID string) *Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runtimes[tableID]
}

func (m *Manager) dropRuntime(tableID string) *Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt := m.runtimes[tableID]
	delete(m.runtimes, tableID)
	return rt
}

func (m *Manager) runtimeList() []*Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tableID < out[j].tableID })
	return out
}

// SetForcedShoe makes the next round on tableID deal drawOrder first to last.
// It is consumed by that round.
func (m *Manager) SetForcedShoe(tableID string, drawOrder []string) error {
	shoe, err := game.NewForcedShoe(drawOrder)
	if err != nil {
		return err
	}
	rt := m.runtime(tableID)
	rt.mu.Lock()
	rt.forcedShoe = shoe
	rt.mu.Unlock()
	return nil
}

func (m *Manager) persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.PersistTimeout())
}

func (m *Manager) broadcast(tableID string, players []string, msgType string, data interface{}) {
	m.presence.SendToTable(tableID, players, msgType, data)
}

func (m *Manager) players(tableID string) []string {
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return nil
	}
	return t.Players
}

func (m *Manager) gameStateLocked(rt *Runtime) game.State {
	if rt.round == nil {
		return game.IdleState(rt.tableID, m.cfg.TurnSeconds)
	}
	return rt.round.State()
}

func (m *Manager) tableViewLocked(rt *Runtime, t lobby.Table, viewerID string) TableView {
	pub := t.Public(viewerID)
	v := TableView{
		ID:             pub.ID,
		Name:           pub.Name,
		OwnerID:        pub.OwnerID,
		MaxPlayers:     pub.MaxPlayers,
		IsPrivate:      pub.IsPrivate,
		InviteCode:     pub.InviteCode,
		Players:        pub.Players,
		ReadyPlayers:   []string{},
		OnlinePlayers:  make([]string, 0, len(pub.Players)),
		SpectatorCount: len(m.presence.Spectators(t.ID)),
		CreatedAt:      pub.CreatedAt,
	}
	for _, p := range pub.Players {
		if m.presence.Online(p) {
			v.OnlinePlayers = append(v.OnlinePlayers, p)
		}
	}
	if rt == nil {
		return v
	}
	v.ReadyPlayers = rt.readyPlayersLocked(pub.Players)
	v.IsLocked = rt.locked
	v.HasActiveTurn = rt.activeLocked()
	v.IsReadyToStart = rt.allReadyLocked(pub.Players) && !v.HasActiveTurn
	if v.HasActiveTurn {
		v.CurrentTurnUserID = rt.round.CurrentTurnUserID()
		deadline := rt.round.TurnDeadline()
		remaining := 0
		if d := deadline.Sub(m.now()); d > 0 {
			remaining = ceilSeconds(d)
		}
		v.TurnDeadline = &deadline
		v.TurnRemainingSeconds = &remaining
	}
	return v
}

// emitTableLocked broadcasts the table snapshot and game state. When the
// table no longer exists it tells the remaining audience it closed.
func (m *Manager) emitTableLocked(rt *Runtime, audience []string) {
	t, ok := m.lobby.Get(rt.tableID)
	if !ok {
		m.broadcast(rt.tableID, audience, EventTableClosed, map[string]string{"tableId": rt.tableID})
		return
	}
	m.broadcast(t.ID, t.Players, EventTableSnapshot, m.tableViewLocked(rt, t, t.OwnerID))
	m.broadcast(t.ID, t.Players, EventTableGameState, m.gameStateLocked(rt))
}

// emitTable locks the runtime of tableID, if any, and broadcasts its state.
func (m *Manager) emitTable(tableID string) {
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return
	}
	rt := m.runtime(tableID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	m.broadcast(t.ID, t.Players, EventTableSnapshot, m.tableViewLocked(rt, t, t.OwnerID))
	m.broadcast(t.ID, t.Players, EventTableGameState, m.gameStateLocked(rt))
}

func (m *Manager) emitModerationLocked(rt *Runtime, players []string) {
	m.broadcast(rt.tableID, players, EventModerationUpdated, rt.moderationStateLocked(m.now()))
}

// sendTableDetails sends one connection everything it needs to render a
// table it just attached to.
func (m *Manager) sendTableDetails(connID, tableID string) {
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return
	}
	identity, _ := m.presence.Identity(connID)
	rt := m.runtime(tableID)
	rt.mu.Lock()
	view := m.tableViewLocked(rt, t, identity.UserID)
	state := m.gameStateLocked(rt)
	history := rt.chatHistoryLocked()
	moderation := rt.moderationStateLocked(m.now())
	rt.mu.Unlock()

	m.presence.SendToConn(connID, EventTableSnapshot, view)
	m.presence.SendToConn(connID, EventTableGameState, state)
	m.presence.SendToConn(connID, EventChatHistory, map[string]interface{}{"tableId": tableID, "messages": history})
	m.presence.SendToConn(connID, EventModerationUpdated, moderation)
}

// LobbyTables lists the tables userID may see, with live table state.
func (m *Manager) LobbyTables(userID string) []TableView {
	tables := m.lobby.VisibleTables(userID)
	out := make([]TableView, 0, len(tables))
	for _, t := range tables {
		rt := m.existingRuntime(t.ID)
		if rt == nil {
			out = append(out, m.tableViewLocked(nil, t, userID))
			continue
		}
		rt.mu.Lock()
		out = append(out, m.tableViewLocked(rt, t, userID))
		rt.mu.Unlock()
	}
	return out
}

func (m *Manager) sendLobby(connID, userID string) {
	m.presence.SendToConn(connID, EventLobbySnapshot, map[string]interface{}{"tables": m.LobbyTables(userID)})
}

// broadcastLobby sends every connection its own view of the lobby. It must
// be called without any runtime held.
func (m *Manager) broadcastLobby() {
	views := make(map[string][]TableView)
	for _, member := range m.presence.Members() {
		userID := member.Identity.UserID
		tables, ok := views[userID]
		if !ok {
			tables = m.LobbyTables(userID)
			views[userID] = tables
		}
		if !member.Conn.Send(OutgoingMessage{Type: EventLobbySnapshot, Data: map[string]interface{}{"tables": tables}}) {
			logger.Log.Warn("connection buffer full, dropping lobby snapshot", zap.String("connID", member.Conn.ID()))
		}
	}
}

func (m *Manager) seatedTable(userID string) string {
	ids := m.lobby.TableIDsForUser(userID)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func (m *Manager) identity(connID string) (Identity, error) {
	identity, ok := m.presence.Identity(connID)
	if !ok {
		return Identity{}, appErr.ErrUnauthorized
	}
	return identity, nil
}

// ConnIdentity returns who connID acts as, with its current role.
func (m *Manager) ConnIdentity(connID string) (Identity, bool) {
	return m.presence.Identity(connID)
}

// OnConnect registers a connection, restores the table its user sits at
// and sends the greeting events.
func (m *Manager) OnConnect(conn Conn, identity Identity) {
	m.presence.Register(conn, identity)
	tableID := m.seatedTable(identity.UserID)

	m.presence.SendToConn(conn.ID(), EventSystem, map[string]interface{}{
		"message":               "connected",
		"userId":                identity.UserID,
		"username":              identity.Username,
		"role":                  identity.Role,
		"turnSeconds":           m.cfg.TurnSeconds,
		"reconnectGraceSeconds": m.cfg.ReconnectGraceSeconds,
	})
	restored := map[string]interface{}{
		"tableId":          nil,
		"spectatorTableId": nil,
		"recovered":        tableID != "",
	}
	if tableID != "" {
		restored["tableId"] = tableID
	}
	m.presence.SendToConn(conn.ID(), EventSessionRestored, restored)

	if tableID != "" {
		m.emitTable(tableID)
		m.sendTableDetails(conn.ID(), tableID)
	}
	m.broadcastLobby()

	logger.Log.Info("connection registered",
		zap.String("connID", conn.ID()),
		zap.String("userID", identity.UserID),
		zap.String("restoredTableID", tableID))
}

// OnDisconnect unregisters a connection. A seated user left with no
// connection gets a reconnect deadline instead of being removed.
func (m *Manager) OnDisconnect(connID string) {
	identity, spectating, remaining, ok := m.presence.Unregister(connID)
	if !ok {
		return
	}
	touched := make(map[string]bool)
	tableID := m.seatedTable(identity.UserID)
	if tableID != "" {
		touched[tableID] = true
		if remaining == 0 {
			m.presence.SetReconnectDeadline(identity.UserID, m.now().Add(m.cfg.ReconnectGrace()))
		}
	}
	if spectating != "" {
		touched[spectating] = true
	}
	for id := range touched {
		m.emitTable(id)
	}
	m.broadcastLobby()

	logger.Log.Info("connection closed",
		zap.String("connID", connID),
		zap.String("userID", identity.UserID),
		zap.Int("remaining", remaining))
}

// JoinLobby sends the caller a lobby snapshot.
func (m *Manager) JoinLobby(connID string) ([]TableView, error) {
	identity, err := m.identity(connID)
	if err != nil {
		return nil, err
	}
	tables := m.LobbyTables(identity.UserID)
	m.presence.SendToConn(connID, EventLobbySnapshot, map[string]interface{}{"tables": tables})
	m.presence.SendToConn(connID, EventLobbyJoined, map[string]bool{"ok": true})
	return tables, nil
}

type SyncRequest struct {
	PreferredTableID string
	PreferredMode    string // auto, player, spectator
}

type SyncResult struct {
	TableID          *string `json:"tableId"`
	SpectatorTableID *string `json:"spectatorTableId"`
}

// SyncState runs pending timer work, then re-sends the caller its lobby and
// table views, re-attaching it as spectator where the preference allows.
func (m *Manager) SyncState(connID string, req SyncRequest) (SyncResult, error) {
	m.SweepTurnTimeouts(context.Background(), m.now())
	m.SweepReconnects(m.now())

	identity, err := m.identity(connID)
	if err != nil {
		return SyncResult{}, err
	}
	m.sendLobby(connID, identity.UserID)

	tableID := m.seatedTable(identity.UserID)
	spectating := m.presence.Spectating(connID)
	next := spectating
	if tableID != "" && next == tableID {
		next = ""
	}

	mode := req.PreferredMode
	if mode == "" {
		mode = "auto"
	}
	preferred := req.PreferredTableID
	switch {
	case preferred != "" && preferred != tableID && (mode == "auto" || mode == "spectator"):
		if m.canSpectate(preferred, identity.UserID) {
			next = preferred
		} else {
			next = ""
		}
	case next != "" && !m.canSpectate(next, identity.UserID):
		next = ""
	}

	prev := m.presence.SetSpectating(connID, next)
	if tableID != "" {
		m.sendTableDetails(connID, tableID)
	}
	if next != "" {
		m.sendTableDetails(connID, next)
	}
	if prev != next {
		if prev != "" {
			m.emitTable(prev)
		}
		if next != "" {
			m.emitTable(next)
		}
		m.broadcastLobby()
	}

	res := SyncResult{}
	if tableID != "" {
		res.TableID = &tableID
	}
	if next != "" {
		res.SpectatorTableID = &next
	}
	return res, nil
}

func (m *Manager) canSpectate(tableID, userID string) bool {
	t, ok := m.lobby.Get(tableID)
	if !ok {
		return false
	}
	if t.IsPrivate && !m.lobby.IsMember(tableID, userID) {
		return false
	}
	rt := m.existingRuntime(tableID)
	if rt == nil {
		return true
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return !rt.banned[userID]
}
