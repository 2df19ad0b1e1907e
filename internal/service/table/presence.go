package table

import (
	"sort"
	"sync"
	"time"

	"maca-service/internal/model"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
)

type session struct {
	conn         Conn
	identity     Identity
	spectatingID string
	lastReaction time.Time
}

// Presence tracks live connections, who they belong to, which table each
// one spectates and the reconnect deadlines of users who dropped while
// seated. It is a leaf lock: nothing is called while p.mu is held except
// non-blocking Conn.Send.
type Presence struct {
	mu        sync.Mutex
	sessions  map[string]*session
	byUser    map[string]map[string]struct{}
	deadlines map[string]time.Time
}

func NewPresence() *Presence {
	return &Presence{
		sessions:  make(map[string]*session),
		byUser:    make(map[string]map[string]struct{}),
		deadlines: make(map[string]time.Time),
	}
}

// Register adds a connection and clears any reconnect deadline of its user.
func (p *Presence) Register(conn Conn, identity Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions[conn.ID()] = &session{conn: conn, identity: identity}
	conns, ok := p.byUser[identity.UserID]
	if !ok {
		conns = make(map[string]struct{})
		p.byUser[identity.UserID] = conns
	}
	conns[conn.ID()] = struct{}{}
	delete(p.deadlines, identity.UserID)
}

// Unregister drops a connection. It returns the identity it carried, the
// table it was spectating and how many connections its user still has.
func (p *Presence) Unregister(connID string) (identity Identity, spectating string, remaining int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[connID]
	if !ok {
		return Identity{}, "", 0, false
	}
	delete(p.sessions, connID)
	conns := p.byUser[s.identity.UserID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(p.byUser, s.identity.UserID)
	}
	return s.identity, s.spectatingID, len(conns), true
}

func (p *Presence) Identity(connID string) (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[connID]
	if !ok {
		return Identity{}, false
	}
	return s.identity, true
}

func (p *Presence) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byUser[userID]) > 0
}

func (p *Presence) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// ConnIDs lists the live connections of userID.
func (p *Presence) ConnIDs(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.byUser[userID]))
	for connID := range p.byUser[userID] {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// SetReconnectDeadline starts the grace period of a user with no connection.
func (p *Presence) SetReconnectDeadline(userID string, deadline time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.byUser[userID]) > 0 {
		return
	}
	p.deadlines[userID] = deadline
}

func (p *Presence) ReconnectDeadline(userID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.deadlines[userID]
	return d, ok
}

// TakeExpiredReconnects removes and returns users whose deadline passed and
// who still have no connection.
func (p *Presence) TakeExpiredReconnects(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []string
	for userID, deadline := range p.deadlines {
		if len(p.byUser[userID]) > 0 {
			delete(p.deadlines, userID)
			continue
		}
		if !now.Before(deadline) {
			expired = append(expired, userID)
			delete(p.deadlines, userID)
		}
	}
	sort.Strings(expired)
	return expired
}

// SetSpectating points a connection at a table ("" to stop) and returns the
// table it spectated before.
func (p *Presence) SetSpectating(connID, tableID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[connID]
	if !ok {
		return ""
	}
	prev := s.spectatingID
	s.spectatingID = tableID
	return prev
}

func (p *Presence) Spectating(connID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[connID]; ok {
		return s.spectatingID
	}
	return ""
}

// Detached is a connection that stopped spectating TableID.
type Detached struct {
	Conn    Conn
	TableID string
}

// StopSpectatingForUser detaches every connection of userID from tableID, or
// from any table when tableID is empty.
func (p *Presence) StopSpectatingForUser(userID, tableID string) []Detached {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Detached
	for connID := range p.byUser[userID] {
		s := p.sessions[connID]
		if s == nil || s.spectatingID == "" || (tableID != "" && s.spectatingID != tableID) {
			continue
		}
		out = append(out, Detached{Conn: s.conn, TableID: s.spectatingID})
		s.spectatingID = ""
	}
	return out
}

// StopAllSpectators detaches every spectator of tableID.
func (p *Presence) StopAllSpectators(tableID string) []Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Conn
	for _, s := range p.sessions {
		if s.spectatingID == tableID {
			s.spectatingID = ""
			out = append(out, s.conn)
		}
	}
	return out
}

// Spectators lists the distinct users watching tableID.
func (p *Presence) Spectators(tableID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := make(map[string]struct{})
	for _, s := range p.sessions {
		if s.spectatingID == tableID {
			set[s.identity.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// AllowReaction enforces the minimum interval between two reactions from
// the same connection.
func (p *Presence) AllowReaction(connID string, now time.Time, interval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[connID]
	if !ok {
		return false
	}
	if !s.lastReaction.IsZero() && now.Sub(s.lastReaction) < interval {
		return false
	}
	s.lastReaction = now
	return true
}

// UpdateRole rewrites the role on every live connection of userID.
func (p *Presence) UpdateRole(userID string, role model.Role) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for connID := range p.byUser[userID] {
		if s := p.sessions[connID]; s != nil {
			s.identity.Role = role
			n++
		}
	}
	return n
}

func (p *Presence) SendToConn(connID string, msgType string, data interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[connID]
	if !ok {
		return false
	}
	return deliver(s, OutgoingMessage{Type: msgType, Data: data})
}

func (p *Presence) SendToUser(userID string, msgType string, data interface{}) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := OutgoingMessage{Type: msgType, Data: data}
	n := 0
	for connID := range p.byUser[userID] {
		if s := p.sessions[connID]; s != nil && deliver(s, msg) {
			n++
		}
	}
	return n
}

// SendToTable delivers to every connection of the seated players plus every
// connection spectating tableID, once each.
func (p *Presence) SendToTable(tableID string, players []string, msgType string, data interface{}) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := OutgoingMessage{Type: msgType, Data: data}
	sent := make(map[string]bool)
	for _, userID := range players {
		for connID := range p.byUser[userID] {
			if s := p.sessions[connID]; s != nil && !sent[connID] {
				sent[connID] = true
				deliver(s, msg)
			}
		}
	}
	for connID, s := range p.sessions {
		if s.spectatingID == tableID && !sent[connID] {
			sent[connID] = true
			deliver(s, msg)
		}
	}
	return len(sent)
}

// Member is one live connection and who it acts as.
type Member struct {
	Conn     Conn
	Identity Identity
}

// Members copies the connection list so callers can build per-viewer
// payloads without holding p.mu.
func (p *Presence) Members() []Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Member, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, Member{Conn: s.conn, Identity: s.identity})
	}
	return out
}

func deliver(s *session, msg OutgoingMessage) bool {
	if s.conn.Send(msg) {
		return true
	}
	logger.Log.Warn("connection buffer full, dropping message",
		zap.String("connID", s.conn.ID()),
		zap.String("userID", s.identity.UserID),
		zap.String("type", msg.Type))
	return false
}
