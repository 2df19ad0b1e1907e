package game

import (
	"time"

	appErr "maca-service/pkg/errors"

	"github.com/google/uuid"
)

type Phase string

const (
	PhasePlayerTurns Phase = "player_turns"
	PhaseDealerTurn  Phase = "dealer_turn"
	PhaseSettled     Phase = "settled"
)

type RoundStatus string

const (
	RoundActive RoundStatus = "active"
	RoundEnded  RoundStatus = "ended"
)

type HandStatus string

const (
	HandActive      HandStatus = "active"
	HandStood       HandStatus = "stood"
	HandBust        HandStatus = "bust"
	HandSurrendered HandStatus = "surrendered"
	HandBlackjack   HandStatus = "blackjack"
	HandResolved    HandStatus = "resolved"
)

type HandResult string

const (
	ResultNone      HandResult = ""
	ResultWin       HandResult = "win"
	ResultLose      HandResult = "lose"
	ResultPush      HandResult = "push"
	ResultBlackjack HandResult = "blackjack"
	ResultBust      HandResult = "bust"
	ResultSurrender HandResult = "surrender"
)

const (
	MaxHandsPerPlayer   = 2
	MaxActionLogItems   = 80
	MaxTrackedActionIDs = 300
)

// Completion reasons recorded on round_settled.
const (
	ReasonImmediateSettle = "immediate_settle"
	ReasonAllHandsDone    = "all_player_hands_resolved"
	ReasonPlayerRemoved   = "player_removed"
)

type Hand struct {
	ID          string
	Cards       []Card
	Bet         int64
	Status      HandStatus
	Result      HandResult
	Payout      *int64
	IsSplitHand bool
	DoubledDown bool
}

func (h *Hand) Score() int {
	return HandScore(h.Cards)
}

func (h *Hand) playable() bool {
	return h.Status == HandActive && h.Result == ResultNone && h.Score() < 21
}

func (h *Hand) finish(status HandStatus, result HandResult, payout int64) {
	h.Status = status
	h.Result = result
	h.Payout = &payout
}

type PlayerState struct {
	UserID           string
	Hands            []*Hand
	ActiveHandIndex  int
	Completed        bool
	BaseBet          int64
	BankrollAtStart  int64
	CommittedBet     int64
	TotalPayout      int64
	InsuranceBet     int64
	InsuranceDecided bool
	InsurancePayout  int64
}

func (p *PlayerState) activeHand() *Hand {
	if p.ActiveHandIndex < 0 || p.ActiveHandIndex >= len(p.Hands) {
		return nil
	}
	return p.Hands[p.ActiveHandIndex]
}

func (p *PlayerState) canCommit(extra int64) bool {
	return p.CommittedBet+extra <= p.BankrollAtStart
}

type LogEntry struct {
	UserID string                 `json:"userId,omitempty"`
	Action string                 `json:"action"`
	At     time.Time              `json:"at"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// Seat is one ready player entering a round.
type Seat struct {
	UserID  string
	Bet     int64
	Balance int64
}

type Options struct {
	TableID      string
	TurnDuration time.Duration
	// Shoe overrides the freshly shuffled shoe, e.g. a forced draw order.
	Shoe         *Shoe
	MaxActionIDs int
	Clock        func() time.Time
}

// Round is one table's in-progress hand of blackjack. It is not safe for
// concurrent use; the owning table runtime serializes every call.
type Round struct {
	tableID      string
	roundID      string
	status       RoundStatus
	phase        Phase
	players      []string
	playerStates map[string]*PlayerState
	turnIndex    int
	turnDuration time.Duration
	turnDeadline time.Time
	dealerCards  []Card
	dealerHidden bool
	shoe         *Shoe
	handNumber   int

	actionLog  []LogEntry
	lastAction *LogEntry

	actionIDs     map[string]time.Time
	actionIDOrder []string
	maxActionIDs  int

	completionReason string
	settlementFailed bool

	startedAt time.Time
	updatedAt time.Time
	now       func() time.Time
}

// NewRound takes bets, deals the opening cards and positions the first turn.
// When nobody has a playable hand the round settles before returning.
func NewRound(opts Options, seats []Seat) (*Round, error) {
	if len(seats) == 0 {
		return nil, appErr.ErrNotEnoughPlayers
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	shoe := opts.Shoe
	if shoe == nil {
		shoe = NewShoe()
	}
	maxIDs := opts.MaxActionIDs
	if maxIDs <= 0 {
		maxIDs = MaxTrackedActionIDs
	}

	now := clock()
	r := &Round{
		tableID:      opts.TableID,
		roundID:      uuid.NewString(),
		status:       RoundActive,
		phase:        PhasePlayerTurns,
		players:      make([]string, 0, len(seats)),
		playerStates: make(map[string]*PlayerState, len(seats)),
		turnDuration: opts.TurnDuration,
		turnDeadline: now.Add(opts.TurnDuration),
		shoe:         shoe,
		handNumber:   1,
		actionIDs:    make(map[string]time.Time),
		maxActionIDs: maxIDs,
		startedAt:    now,
		updatedAt:    now,
		now:          clock,
	}

	for _, seat := range seats {
		if seat.Bet <= 0 {
			return nil, appErr.ErrInvalidBet
		}
		if _, dup := r.playerStates[seat.UserID]; dup {
			continue
		}
		bankroll := seat.Balance
		if bankroll < seat.Bet {
			bankroll = seat.Bet
		}
		r.players = append(r.players, seat.UserID)
		r.playerStates[seat.UserID] = &PlayerState{
			UserID:          seat.UserID,
			Hands:           []*Hand{{ID: newHandID(), Bet: seat.Bet, Status: HandActive}},
			BaseBet:         seat.Bet,
			BankrollAtStart: bankroll,
			CommittedBet:    seat.Bet,
		}
	}

	// Each player, dealer up-card, each player, dealer hole card.
	for _, uid := range r.players {
		h := r.playerStates[uid].Hands[0]
		h.Cards = append(h.Cards, r.shoe.Draw())
	}
	r.dealerCards = append(r.dealerCards, r.shoe.Draw())
	for _, uid := range r.players {
		h := r.playerStates[uid].Hands[0]
		h.Cards = append(h.Cards, r.shoe.Draw())
	}
	r.dealerCards = append(r.dealerCards, r.shoe.Draw())
	r.dealerHidden = true

	for _, uid := range r.players {
		ps := r.playerStates[uid]
		if IsNaturalBlackjack(ps.Hands[0].Cards) {
			ps.Hands[0].Status = HandBlackjack
			ps.ActiveHandIndex = 1
		}
	}

	r.record("table_game_started", "", map[string]interface{}{
		"players":      len(r.players),
		"roundId":      r.roundID,
		"dealerUpcard": string(r.dealerCards[0]),
	})

	if !r.positionToNextPlayable() {
		r.settle(ReasonImmediateSettle)
	}
	return r, nil
}

func newHandID() string {
	return uuid.NewString()[:12]
}

func (r *Round) ID() string              { return r.roundID }
func (r *Round) TableID() string         { return r.tableID }
func (r *Round) Phase() Phase            { return r.phase }
func (r *Round) Status() RoundStatus     { return r.status }
func (r *Round) TurnDeadline() time.Time { return r.turnDeadline }
func (r *Round) CompletionReason() string {
	return r.completionReason
}

func (r *Round) Active() bool {
	return r.status == RoundActive
}

func (r *Round) Finished() bool {
	return r.status == RoundEnded && r.phase == PhaseSettled
}

// Players returns the seated players in turn order.
func (r *Round) Players() []string {
	return append([]string(nil), r.players...)
}

func (r *Round) HasPlayer(userID string) bool {
	_, ok := r.playerStates[userID]
	return ok
}

// PlayerState exposes a player's state for inspection. Callers must not mutate it.
func (r *Round) PlayerState(userID string) *PlayerState {
	return r.playerStates[userID]
}

func (r *Round) DealerCards() []Card {
	return append([]Card(nil), r.dealerCards...)
}

// MarkSettlementFailed flags that persisting this round's payouts did not fully succeed.
func (r *Round) MarkSettlementFailed() {
	r.settlementFailed = true
}

func (r *Round) SettlementFailed() bool {
	return r.settlementFailed
}

func (r *Round) CurrentTurnUserID() string {
	if r.status != RoundActive || r.phase != PhasePlayerTurns || len(r.players) == 0 {
		return ""
	}
	return r.players[r.turnIndex%len(r.players)]
}

func (r *Round) currentPlayer() *PlayerState {
	uid := r.CurrentTurnUserID()
	if uid == "" {
		return nil
	}
	return r.playerStates[uid]
}

func (r *Round) currentHand() *Hand {
	ps := r.currentPlayer()
	if ps == nil {
		return nil
	}
	return ps.activeHand()
}

// Expired reports whether the current turn's deadline has passed at now.
func (r *Round) Expired(now time.Time) bool {
	return r.status == RoundActive && r.phase == PhasePlayerTurns && !now.Before(r.turnDeadline)
}

// positionToNextPlayable moves the turn pointer forward, wrapping over the
// player list, until it lands on a playable hand. It returns false when no
// playable hand remains.
func (r *Round) positionToNextPlayable() bool {
	n := len(r.players)
	if n == 0 {
		return false
	}
	if r.turnIndex < 0 || r.turnIndex >= n {
		r.turnIndex = 0
	}

	for examined := 0; examined < n; examined++ {
		ps := r.playerStates[r.players[r.turnIndex]]
		if ps != nil {
			for ps.ActiveHandIndex < len(ps.Hands) {
				h := ps.Hands[ps.ActiveHandIndex]
				if h.playable() {
					ps.Completed = false
					r.resetDeadline()
					return true
				}
				if h.Status == HandActive && h.Result == ResultNone {
					// 21 reached without an explicit stand.
					h.Status = HandStood
				}
				ps.ActiveHandIndex++
			}
			ps.Completed = true
		}
		r.turnIndex = (r.turnIndex + 1) % n
	}
	return false
}

func (r *Round) resetDeadline() {
	now := r.now()
	r.turnDeadline = now.Add(r.turnDuration)
	r.updatedAt = now
}

// RemoveOutcome describes what removing a player did to the round.
type RemoveOutcome struct {
	Removed      bool
	WasCurrent   bool
	BelowMinimum bool
	Settled      bool
}

// RemovePlayer drops a player from the turn cycle. If fewer than minPlayers
// remain the round is left untouched for the caller to discard; otherwise the
// turn moves on, settling if nobody can act.
func (r *Round) RemovePlayer(userID string, minPlayers int) RemoveOutcome {
	idx := -1
	for i, uid := range r.players {
		if uid == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return RemoveOutcome{}
	}

	out := RemoveOutcome{Removed: true, WasCurrent: r.CurrentTurnUserID() == userID}
	r.players = append(r.players[:idx:idx], r.players[idx+1:]...)
	delete(r.playerStates, userID)
	r.record("player_left_turn_cycle", userID, map[string]interface{}{"tableId": r.tableID})

	if len(r.players) < minPlayers {
		out.BelowMinimum = true
		return out
	}
	if idx < r.turnIndex {
		r.turnIndex--
	}
	if r.turnIndex >= len(r.players) {
		r.turnIndex = 0
	}

	if r.status == RoundActive && r.phase == PhasePlayerTurns && out.WasCurrent {
		if !r.positionToNextPlayable() {
			r.settle(ReasonPlayerRemoved)
			out.Settled = true
		}
	}
	return out
}

// SeenActionID reports whether the action id was already applied in this round.
func (r *Round) SeenActionID(id string) bool {
	if id == "" {
		return false
	}
	_, ok := r.actionIDs[id]
	return ok
}

// RememberActionID tracks an applied action id, evicting the oldest past the bound.
func (r *Round) RememberActionID(id string) {
	if id == "" || r.SeenActionID(id) {
		return
	}
	r.actionIDs[id] = r.now()
	r.actionIDOrder = append(r.actionIDOrder, id)
	for len(r.actionIDOrder) > r.maxActionIDs {
		oldest := r.actionIDOrder[0]
		r.actionIDOrder = r.actionIDOrder[1:]
		delete(r.actionIDs, oldest)
	}
}

func (r *Round) record(action, userID string, meta map[string]interface{}) {
	entry := LogEntry{UserID: userID, Action: action, At: r.now(), Meta: meta}
	r.actionLog = append(r.actionLog, entry)
	if len(r.actionLog) > MaxActionLogItems {
		r.actionLog = append([]LogEntry(nil), r.actionLog[len(r.actionLog)-MaxActionLogItems:]...)
	}
	r.lastAction = &r.actionLog[len(r.actionLog)-1]
	r.updatedAt = entry.At
}

// ActionLog returns a copy of the bounded action log.
func (r *Round) ActionLog() []LogEntry {
	return append([]LogEntry(nil), r.actionLog...)
}

// UserActions lists the logged action names for one player, oldest first.
func (r *Round) UserActions(userID string) []string {
	out := make([]string, 0)
	for _, e := range r.actionLog {
		if e.UserID == userID {
			out = append(out, e.Action)
		}
	}
	return out
}
