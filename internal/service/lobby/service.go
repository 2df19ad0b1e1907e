package lobby

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"
	"maca-service/pkg/utils/random"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	MirrorKey = "maca:lobby:tables"

	MinPlayers = 2
	MaxPlayers = 8

	minNameLen = 3
	maxNameLen = 60

	mirrorTimeout = 2 * time.Second
)

type Table struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerID    string    `json:"ownerId"`
	MaxPlayers int       `json:"maxPlayers"`
	IsPrivate  bool      `json:"isPrivate"`
	InviteCode string    `json:"inviteCode,omitempty"`
	Players    []string  `json:"players"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (t *Table) has(userID string) bool {
	for _, p := range t.Players {
		if p == userID {
			return true
		}
	}
	return false
}

func (t *Table) clone() Table {
	out := *t
	out.Players = append([]string(nil), t.Players...)
	return out
}

// Public hides the invite code from users who are not seated.
func (t Table) Public(viewerID string) Table {
	if t.IsPrivate && !t.has(viewerID) {
		t.InviteCode = ""
	}
	return t
}

type CreateRequest struct {
	Name       string
	MaxPlayers int
	IsPrivate  bool
}

// Change reports what a membership operation did besides its main effect:
// the tables the user was pulled out of and the tables deleted because they
// emptied.
type Change struct {
	Table   Table
	Left    []string
	Deleted []string
}

// Service is the in-process table registry. The redis hash is a best-effort
// mirror for other processes to read; it is never read back.
type Service struct {
	mu     sync.Mutex
	tables map[string]*Table

	rdb *redis.Client
}

func NewService(rdb *redis.Client) *Service {
	return &Service{tables: make(map[string]*Table), rdb: rdb}
}

func (s *Service) removeUserLocked(userID, keepTableID string) (left, deleted []string) {
	for id, t := range s.tables {
		if id == keepTableID || !t.has(userID) {
			continue
		}
		t.Players = without(t.Players, userID)
		left = append(left, id)
		if len(t.Players) == 0 {
			delete(s.tables, id)
			deleted = append(deleted, id)
			continue
		}
		if t.OwnerID == userID {
			t.OwnerID = t.Players[0]
		}
	}
	return left, deleted
}

func without(players []string, userID string) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) newTableIDLocked() string {
	for {
		id := random.Hex(8)
		if _, taken := s.tables[id]; !taken {
			return id
		}
	}
}

func (s *Service) newInviteCodeLocked() string {
	for {
		code := random.Code(6)
		if s.byInviteLocked(code) == nil {
			return code
		}
	}
}

func (s *Service) byInviteLocked(code string) *Table {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	for _, t := range s.tables {
		if t.InviteCode != "" && t.InviteCode == code {
			return t
		}
	}
	return nil
}

// Create opens a table owned by ownerID, who leaves any other table first.
func (s *Service) Create(ownerID string, req CreateRequest) (Change, error) {
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return Change{}, appErr.ErrInvalidTableName
	}
	if req.MaxPlayers < MinPlayers || req.MaxPlayers > MaxPlayers {
		return Change{}, appErr.ErrInvalidSeats
	}

	s.mu.Lock()
	left, deleted := s.removeUserLocked(ownerID, "")
	t := &Table{
		ID:         s.newTableIDLocked(),
		Name:       name,
		OwnerID:    ownerID,
		MaxPlayers: req.MaxPlayers,
		IsPrivate:  req.IsPrivate,
		Players:    []string{ownerID},
		CreatedAt:  time.Now(),
	}
	if req.IsPrivate {
		t.InviteCode = s.newInviteCodeLocked()
	}
	s.tables[t.ID] = t
	change := Change{Table: t.clone(), Left: left, Deleted: deleted}
	upserts := s.snapshotLocked(append([]string{t.ID}, left...))
	s.mu.Unlock()

	s.mirror(upserts, deleted)
	return change, nil
}

// Join seats userID at tableID. Joining a table the user already sits at is
// a no-op success.
func (s *Service) Join(tableID, userID string) (Change, error) {
	s.mu.Lock()
	t, ok := s.tables[tableID]
	if !ok {
		s.mu.Unlock()
		return Change{}, appErr.ErrTableNotFound
	}
	return s.joinLocked(t, userID)
}

func (s *Service) JoinByInvite(code, userID string) (Change, error) {
	s.mu.Lock()
	t := s.byInviteLocked(code)
	if t == nil {
		s.mu.Unlock()
		return Change{}, appErr.ErrTableNotFound
	}
	return s.joinLocked(t, userID)
}

// joinLocked releases s.mu.
func (s *Service) joinLocked(t *Table, userID string) (Change, error) {
	if t.has(userID) {
		change := Change{Table: t.clone()}
		s.mu.Unlock()
		return change, nil
	}
	if len(t.Players) >= t.MaxPlayers {
		s.mu.Unlock()
		return Change{}, appErr.ErrTableFull
	}
	left, deleted := s.removeUserLocked(userID, t.ID)
	t.Players = append(t.Players, userID)
	change := Change{Table: t.clone(), Left: left, Deleted: deleted}
	upserts := s.snapshotLocked(append([]string{t.ID}, left...))
	s.mu.Unlock()

	s.mirror(upserts, deleted)
	return change, nil
}

// Leave removes userID from tableID. The returned bool is false when the
// table no longer exists afterwards (it emptied, or never existed).
func (s *Service) Leave(tableID, userID string) (Table, bool) {
	s.mu.Lock()
	t, ok := s.tables[tableID]
	if !ok {
		s.mu.Unlock()
		return Table{}, false
	}
	if !t.has(userID) {
		out := t.clone()
		s.mu.Unlock()
		return out, true
	}
	t.Players = without(t.Players, userID)
	if len(t.Players) == 0 {
		delete(s.tables, tableID)
		s.mu.Unlock()
		s.mirror(nil, []string{tableID})
		return Table{}, false
	}
	if t.OwnerID == userID {
		t.OwnerID = t.Players[0]
	}
	out := t.clone()
	upserts := s.snapshotLocked([]string{tableID})
	s.mu.Unlock()

	s.mirror(upserts, nil)
	return out, true
}

// Close deletes a table regardless of who sits at it.
func (s *Service) Close(tableID string) (Table, bool) {
	s.mu.Lock()
	t, ok := s.tables[tableID]
	if ok {
		delete(s.tables, tableID)
	}
	s.mu.Unlock()
	if !ok {
		return Table{}, false
	}
	s.mirror(nil, []string{tableID})
	return t.clone(), true
}

func (s *Service) Get(tableID string) (Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableID]
	if !ok {
		return Table{}, false
	}
	return t.clone(), true
}

func (s *Service) GetByInvite(code string) (Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.byInviteLocked(code)
	if t == nil {
		return Table{}, false
	}
	return t.clone(), true
}

func (s *Service) IsMember(tableID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableID]
	return ok && t.has(userID)
}

// List returns every table, oldest first.
func (s *Service) List() []Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(func(*Table) bool { return true })
}

// VisibleTables lists public tables plus private tables userID sits at.
func (s *Service) VisibleTables(userID string) []Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(func(t *Table) bool { return !t.IsPrivate || t.has(userID) })
}

func (s *Service) TableIDsForUser(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, 1)
	for _, t := range s.sortedLocked(func(t *Table) bool { return t.has(userID) }) {
		ids = append(ids, t.ID)
	}
	return ids
}

func (s *Service) sortedLocked(keep func(*Table) bool) []Table {
	out := make([]Table, 0, len(s.tables))
	for _, t := range s.tables {
		if keep(t) {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Service) snapshotLocked(ids []string) []Table {
	out := make([]Table, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tables[id]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}

func (s *Service) mirror(upserts []Table, deletes []string) {
	if s.rdb == nil || (len(upserts) == 0 && len(deletes) == 0) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	pipe := s.rdb.Pipeline()
	if len(upserts) > 0 {
		fields := make(map[string]interface{}, len(upserts))
		for _, t := range upserts {
			raw, err := json.Marshal(t)
			if err != nil {
				continue
			}
			fields[t.ID] = raw
		}
		pipe.HSet(ctx, MirrorKey, fields)
	}
	if len(deletes) > 0 {
		pipe.HDel(ctx, MirrorKey, deletes...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.Warn("lobby mirror write failed", zap.Error(err))
	}
}
