package game

import "time"

type HandView struct {
	HandID      string     `json:"handId"`
	Cards       []Card     `json:"cards"`
	Score       int        `json:"score"`
	Bet         int64      `json:"bet"`
	Status      HandStatus `json:"status"`
	Result      HandResult `json:"result,omitempty"`
	Payout      *int64     `json:"payout"`
	IsSplitHand bool       `json:"isSplitHand"`
	DoubledDown bool       `json:"doubledDown"`
}

type PlayerView struct {
	UserID           string     `json:"userId"`
	Hands            []HandView `json:"hands"`
	ActiveHandIndex  int        `json:"activeHandIndex"`
	Completed        bool       `json:"completed"`
	BaseBet          int64      `json:"baseBet"`
	BankrollAtStart  int64      `json:"bankrollAtStart"`
	CommittedBet     int64      `json:"committedBet"`
	TotalPayout      int64      `json:"totalPayout"`
	InsuranceBet     int64      `json:"insuranceBet"`
	InsuranceDecided bool       `json:"insuranceDecided"`
	InsurancePayout  int64      `json:"insurancePayout"`
}

// State is the broadcast form of a round. The dealer hole card is masked
// while hidden.
type State struct {
	TableID              string                `json:"tableId"`
	RoundID              string                `json:"roundId,omitempty"`
	Status               string                `json:"status"`
	Phase                string                `json:"phase"`
	Players              []string              `json:"players"`
	TurnIndex            *int                  `json:"turnIndex"`
	CurrentTurnUserID    string                `json:"currentTurnUserId,omitempty"`
	CurrentHandIndex     *int                  `json:"currentHandIndex"`
	TurnSeconds          int                   `json:"turnSeconds"`
	TurnDeadline         *time.Time            `json:"turnDeadline"`
	TurnRemainingSeconds int                   `json:"turnRemainingSeconds"`
	AvailableActions     []Action              `json:"availableActions"`
	RecommendedAction    Action                `json:"recommendedAction,omitempty"`
	HandNumber           int                   `json:"handNumber"`
	DealerCards          []Card                `json:"dealerCards"`
	DealerScore          *int                  `json:"dealerScore"`
	DealerHidden         bool                  `json:"dealerHidden"`
	PlayerStates         map[string]PlayerView `json:"playerStates"`
	LastAction           *LogEntry             `json:"lastAction"`
	ActionCount          int                   `json:"actionCount"`
	CompletionReason     string                `json:"completionReason,omitempty"`
	SettlementFailed     bool                  `json:"settlementFailed,omitempty"`
	StartedAt            *time.Time            `json:"startedAt,omitempty"`
	UpdatedAt            *time.Time            `json:"updatedAt,omitempty"`
}

// IdleState is broadcast for tables without a round.
func IdleState(tableID string, turnSeconds int) State {
	return State{
		TableID:          tableID,
		Status:           "idle",
		Phase:            "idle",
		Players:          []string{},
		TurnSeconds:      turnSeconds,
		AvailableActions: []Action{},
		DealerCards:      []Card{},
		DealerHidden:     true,
		PlayerStates:     map[string]PlayerView{},
	}
}

func (r *Round) visibleDealerCards() []Card {
	if r.dealerHidden && len(r.dealerCards) >= 2 {
		return []Card{r.dealerCards[0], HiddenCard}
	}
	return append([]Card(nil), r.dealerCards...)
}

func remainingSeconds(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// State serializes the round. It copies everything it returns.
func (r *Round) State() State {
	now := r.now()
	visible := r.visibleDealerCards()

	var dealerScore *int
	if len(visible) == 1 {
		v := CardValue(visible[0])
		dealerScore = &v
	} else if len(visible) > 1 && !r.dealerHidden {
		v := HandScore(visible)
		dealerScore = &v
	}

	started, updated := r.startedAt, r.updatedAt
	st := State{
		TableID:           r.tableID,
		RoundID:           r.roundID,
		Status:            string(r.status),
		Phase:             string(r.phase),
		Players:           r.Players(),
		CurrentTurnUserID: r.CurrentTurnUserID(),
		TurnSeconds:       int(r.turnDuration / time.Second),
		AvailableActions:  r.LegalActions(),
		RecommendedAction: r.RecommendedAction(),
		HandNumber:        r.handNumber,
		DealerCards:       visible,
		DealerScore:       dealerScore,
		DealerHidden:      r.dealerHidden,
		PlayerStates:      make(map[string]PlayerView, len(r.playerStates)),
		ActionCount:       len(r.actionLog),
		CompletionReason:  r.completionReason,
		SettlementFailed:  r.settlementFailed,
		StartedAt:         &started,
		UpdatedAt:         &updated,
	}
	if r.status == RoundActive {
		idx := r.turnIndex
		deadline := r.turnDeadline
		st.TurnIndex = &idx
		st.TurnDeadline = &deadline
		st.TurnRemainingSeconds = remainingSeconds(deadline, now)
	}
	if ps := r.currentPlayer(); ps != nil {
		hi := ps.ActiveHandIndex
		st.CurrentHandIndex = &hi
	}
	if r.lastAction != nil {
		last := *r.lastAction
		st.LastAction = &last
	}
	for uid, ps := range r.playerStates {
		st.PlayerStates[uid] = playerView(ps)
	}
	return st
}

func playerView(ps *PlayerState) PlayerView {
	pv := PlayerView{
		UserID:           ps.UserID,
		Hands:            make([]HandView, 0, len(ps.Hands)),
		ActiveHandIndex:  ps.ActiveHandIndex,
		Completed:        ps.Completed,
		BaseBet:          ps.BaseBet,
		BankrollAtStart:  ps.BankrollAtStart,
		CommittedBet:     ps.CommittedBet,
		TotalPayout:      ps.TotalPayout,
		InsuranceBet:     ps.InsuranceBet,
		InsuranceDecided: ps.InsuranceDecided,
		InsurancePayout:  ps.InsurancePayout,
	}
	for _, h := range ps.Hands {
		hv := HandView{
			HandID:      h.ID,
			Cards:       append([]Card(nil), h.Cards...),
			Score:       h.Score(),
			Bet:         h.Bet,
			Status:      h.Status,
			Result:      h.Result,
			IsSplitHand: h.IsSplitHand,
			DoubledDown: h.DoubledDown,
		}
		if h.Payout != nil {
			p := *h.Payout
			hv.Payout = &p
		}
		pv.Hands = append(pv.Hands, hv)
	}
	return pv
}
