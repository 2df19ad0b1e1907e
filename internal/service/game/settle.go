package game

import "time"

// HandOutcome is the settled view of one hand.
type HandOutcome struct {
	HandID      string     `json:"handId"`
	Cards       []Card     `json:"cards"`
	Bet         int64      `json:"bet"`
	Score       int        `json:"score"`
	Result      HandResult `json:"result"`
	Payout      int64      `json:"payout"`
	IsSplitHand bool       `json:"isSplitHand"`
	DoubledDown bool       `json:"doubledDown"`
}

// PlayerResult is what settlement owes one player. TotalPayout is the single
// balance delta for the round: the sum of hand payouts plus insurance.
type PlayerResult struct {
	UserID          string        `json:"userId"`
	TotalPayout     int64         `json:"totalPayout"`
	InsuranceBet    int64         `json:"insuranceBet"`
	InsurancePayout int64         `json:"insurancePayout"`
	Hands           []HandOutcome `json:"hands"`
	Actions         []string      `json:"actions"`
}

type Settlement struct {
	RoundID     string         `json:"roundId"`
	TableID     string         `json:"tableId"`
	Reason      string         `json:"reason"`
	DealerCards []Card         `json:"dealerCards"`
	DealerScore int            `json:"dealerScore"`
	StartedAt   time.Time      `json:"startedAt"`
	EndedAt     time.Time      `json:"endedAt"`
	Players     []PlayerResult `json:"players"`
}

func (r *Round) hasLiveHand() bool {
	for _, ps := range r.playerStates {
		for _, h := range ps.Hands {
			if h.Result != ResultBust && h.Result != ResultSurrender {
				return true
			}
		}
	}
	return false
}

// settle runs the dealer and computes every payout. It is a no-op once settled.
func (r *Round) settle(reason string) {
	if r.phase == PhaseSettled {
		return
	}
	r.phase = PhaseDealerTurn
	r.dealerHidden = false

	dealerNatural := IsNaturalBlackjack(r.dealerCards)
	if !dealerNatural && r.hasLiveHand() {
		for HandScore(r.dealerCards) < 17 {
			r.dealerCards = append(r.dealerCards, r.shoe.Draw())
			r.record("dealer_hit", "", map[string]interface{}{"dealerScore": HandScore(r.dealerCards)})
		}
	}
	dealerScore := HandScore(r.dealerCards)

	for _, uid := range r.players {
		ps := r.playerStates[uid]
		ps.Completed = true
		if ps.ActiveHandIndex >= len(ps.Hands) {
			ps.ActiveHandIndex = len(ps.Hands) - 1
			if ps.ActiveHandIndex < 0 {
				ps.ActiveHandIndex = 0
			}
		}

		var total int64
		for _, h := range ps.Hands {
			total += settleHand(h, dealerNatural, dealerScore)
		}

		ps.InsurancePayout = 0
		if ps.InsuranceBet > 0 {
			if dealerNatural {
				ps.InsurancePayout = 2 * ps.InsuranceBet
			} else {
				ps.InsurancePayout = -ps.InsuranceBet
			}
			total += ps.InsurancePayout
		}
		ps.TotalPayout = total
	}

	r.phase = PhaseSettled
	r.status = RoundEnded
	r.completionReason = reason
	r.resetDeadline()
	r.record("round_settled", "", map[string]interface{}{"reason": reason, "dealerScore": dealerScore})
}

func settleHand(h *Hand, dealerNatural bool, dealerScore int) int64 {
	switch h.Result {
	case ResultBust:
		h.finish(HandResolved, ResultBust, -h.Bet)
		return -h.Bet
	case ResultSurrender:
		payout := -(h.Bet / 2)
		h.finish(HandResolved, ResultSurrender, payout)
		return payout
	}

	score := h.Score()
	playerNatural := IsNaturalBlackjack(h.Cards) && !h.IsSplitHand

	var result HandResult
	var payout int64
	switch {
	case playerNatural && dealerNatural:
		result, payout = ResultPush, 0
	case playerNatural:
		result, payout = ResultBlackjack, h.Bet*3/2
	case dealerNatural:
		result, payout = ResultLose, -h.Bet
	case dealerScore > 21:
		result, payout = ResultWin, h.Bet
	case score > dealerScore:
		result, payout = ResultWin, h.Bet
	case score < dealerScore:
		result, payout = ResultLose, -h.Bet
	default:
		result, payout = ResultPush, 0
	}
	h.finish(HandResolved, result, payout)
	return payout
}

// Settlement returns the payouts of a finished round, or nil while it is still in play.
func (r *Round) Settlement() *Settlement {
	if !r.Finished() {
		return nil
	}
	out := &Settlement{
		RoundID:     r.roundID,
		TableID:     r.tableID,
		Reason:      r.completionReason,
		DealerCards: r.DealerCards(),
		DealerScore: HandScore(r.dealerCards),
		StartedAt:   r.startedAt,
		EndedAt:     r.updatedAt,
		Players:     make([]PlayerResult, 0, len(r.players)),
	}
	for _, uid := range r.players {
		ps := r.playerStates[uid]
		pr := PlayerResult{
			UserID:          uid,
			TotalPayout:     ps.TotalPayout,
			InsuranceBet:    ps.InsuranceBet,
			InsurancePayout: ps.InsurancePayout,
			Hands:           make([]HandOutcome, 0, len(ps.Hands)),
			Actions:         append(r.UserActions(uid), "table_round:"+r.roundID),
		}
		for _, h := range ps.Hands {
			var payout int64
			if h.Payout != nil {
				payout = *h.Payout
			}
			pr.Hands = append(pr.Hands, HandOutcome{
				HandID:      h.ID,
				Cards:       append([]Card(nil), h.Cards...),
				Bet:         h.Bet,
				Score:       h.Score(),
				Result:      h.Result,
				Payout:      payout,
				IsSplitHand: h.IsSplitHand,
				DoubledDown: h.DoubledDown,
			})
		}
		out.Players = append(out.Players, pr)
	}
	return out
}
