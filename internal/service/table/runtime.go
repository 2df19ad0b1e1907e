package table

import (
	"sort"
	"sync"
	"time"

	"maca-service/internal/service/game"
)

const (
	MaxChatHistory = 120
	MinPlayers     = 2
)

// Runtime is the single writer of one table's game state. Every mutation of
// the round, the ready set or the moderation state happens with mu held;
// helpers suffixed Locked expect the caller to hold it.
type Runtime struct {
	tableID string

	mu         sync.Mutex
	round      *game.Round
	ready      map[string]bool
	bets       map[string]int64
	forcedShoe *game.Shoe
	mutedUntil map[string]time.Time
	banned     map[string]bool
	locked     bool
	chat       []ChatMessage

	lastSettlement *game.Settlement
	// lastRound answers retries of the action that ended it.
	lastRound *game.Round
}

func newRuntime(tableID string) *Runtime {
	return &Runtime{
		tableID:    tableID,
		ready:      make(map[string]bool),
		bets:       make(map[string]int64),
		mutedUntil: make(map[string]time.Time),
		banned:     make(map[string]bool),
	}
}

func (rt *Runtime) TableID() string { return rt.tableID }

func (rt *Runtime) activeLocked() bool {
	return rt.round != nil && rt.round.Active()
}

func (rt *Runtime) clearReadyLocked(userID string) bool {
	if !rt.ready[userID] {
		delete(rt.bets, userID)
		return false
	}
	delete(rt.ready, userID)
	delete(rt.bets, userID)
	return true
}

func (rt *Runtime) readyPlayersLocked(players []string) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		if rt.ready[p] {
			out = append(out, p)
		}
	}
	return out
}

func (rt *Runtime) allReadyLocked(players []string) bool {
	if len(players) < MinPlayers {
		return false
	}
	for _, p := range players {
		if !rt.ready[p] {
			return false
		}
	}
	return true
}

// mutedLocked reports the remaining mute in whole seconds, rounded up, and
// forgets expired mutes.
func (rt *Runtime) mutedLocked(userID string, now time.Time) (bool, int) {
	until, ok := rt.mutedUntil[userID]
	if !ok {
		return false, 0
	}
	if !now.Before(until) {
		delete(rt.mutedUntil, userID)
		return false, 0
	}
	return true, ceilSeconds(until.Sub(now))
}

func (rt *Runtime) appendChatLocked(msg ChatMessage) {
	rt.chat = append(rt.chat, msg)
	if len(rt.chat) > MaxChatHistory {
		rt.chat = append([]ChatMessage(nil), rt.chat[len(rt.chat)-MaxChatHistory:]...)
	}
}

func (rt *Runtime) chatHistoryLocked() []ChatMessage {
	return append([]ChatMessage{}, rt.chat...)
}

func (rt *Runtime) moderationStateLocked(now time.Time) ModerationState {
	st := ModerationState{
		TableID:     rt.tableID,
		MutedUsers:  make(map[string]int),
		BannedUsers: make([]string, 0, len(rt.banned)),
	}
	for userID := range rt.mutedUntil {
		if muted, secs := rt.mutedLocked(userID, now); muted {
			st.MutedUsers[userID] = secs
		}
	}
	for userID := range rt.banned {
		st.BannedUsers = append(st.BannedUsers, userID)
	}
	sort.Strings(st.BannedUsers)
	return st
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
