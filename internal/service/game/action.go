package game

import (
	"fmt"
	"regexp"
	"strings"

	appErr "maca-service/pkg/errors"
)

type Action string

const (
	ActionHit        Action = "hit"
	ActionStand      Action = "stand"
	ActionDoubleDown Action = "double_down"
	ActionSplit      Action = "split"
	ActionSurrender  Action = "surrender"
	ActionInsurance  Action = "insurance"
)

var actionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidActionID reports whether id is an acceptable idempotency key.
func ValidActionID(id string) bool {
	return actionIDPattern.MatchString(id)
}

// ParseAction accepts only the six turn actions.
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionHit, ActionStand, ActionDoubleDown, ActionSplit, ActionSurrender, ActionInsurance:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", appErr.ErrInvalidAction, raw)
	}
}

func (r *Round) insuranceAmount(ps *PlayerState) int64 {
	if ps.BaseBet <= 0 {
		return 0
	}
	return ps.BaseBet / 2
}

func (r *Round) canDoubleDown(ps *PlayerState, h *Hand) bool {
	if h.Status != HandActive || h.Result != ResultNone || len(h.Cards) != 2 || h.DoubledDown {
		return false
	}
	return ps.canCommit(h.Bet)
}

func (r *Round) canSplit(ps *PlayerState, h *Hand) bool {
	if len(ps.Hands) >= MaxHandsPerPlayer {
		return false
	}
	if h.Status != HandActive || h.Result != ResultNone || len(h.Cards) != 2 {
		return false
	}
	if h.Cards[0].Rank() != h.Cards[1].Rank() {
		return false
	}
	return ps.canCommit(h.Bet)
}

func (r *Round) canSurrender(h *Hand) bool {
	if h.Status != HandActive || h.Result != ResultNone {
		return false
	}
	if h.IsSplitHand || h.DoubledDown || len(h.Cards) != 2 {
		return false
	}
	return h.Score() < 21
}

func (r *Round) canInsure(ps *PlayerState, h *Hand) bool {
	if len(r.dealerCards) == 0 || r.dealerCards[0].Rank() != "A" || !r.dealerHidden {
		return false
	}
	if ps.InsuranceDecided {
		return false
	}
	if h.Status != HandActive || h.Result != ResultNone {
		return false
	}
	if ps.ActiveHandIndex != 0 || len(h.Cards) != 2 {
		return false
	}
	amount := r.insuranceAmount(ps)
	return amount > 0 && ps.canCommit(amount)
}

// LegalActions lists what the current-turn player may do right now.
func (r *Round) LegalActions() []Action {
	if r.status != RoundActive || r.phase != PhasePlayerTurns {
		return []Action{}
	}
	ps := r.currentPlayer()
	h := r.currentHand()
	if ps == nil || h == nil || !h.playable() {
		return []Action{}
	}
	actions := []Action{ActionHit, ActionStand}
	if r.canDoubleDown(ps, h) {
		actions = append(actions, ActionDoubleDown)
	}
	if r.canSplit(ps, h) {
		actions = append(actions, ActionSplit)
	}
	if r.canSurrender(h) {
		actions = append(actions, ActionSurrender)
	}
	if r.canInsure(ps, h) {
		actions = append(actions, ActionInsurance)
	}
	return actions
}

func containsAction(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// Apply validates and applies one turn action for userID. It returns true when
// the action completed the round (dealer played and payouts are computed).
// A rejected action leaves the round untouched.
func (r *Round) Apply(userID string, action Action, timedOut bool) (bool, error) {
	if r.status != RoundActive || r.phase != PhasePlayerTurns {
		return false, appErr.ErrNoActiveRound
	}
	if userID != r.CurrentTurnUserID() {
		return false, appErr.ErrNotYourTurn
	}
	ps := r.currentPlayer()
	h := r.currentHand()
	if ps == nil || h == nil {
		return false, appErr.ErrNoActiveHand
	}
	if !h.playable() {
		return false, appErr.ErrHandResolved
	}
	if !containsAction(r.LegalActions(), action) {
		return false, appErr.ErrActionNotAllowed
	}
	if err := r.checkCommitment(ps, h, action); err != nil {
		return false, err
	}

	handIndex := ps.ActiveHandIndex
	meta := map[string]interface{}{
		"handIndex": handIndex,
		"handId":    h.ID,
		"timedOut":  timedOut,
	}

	if action != ActionInsurance && r.canInsure(ps, h) {
		ps.InsuranceDecided = true
		r.record("insurance_auto_declined", userID, map[string]interface{}{
			"handIndex": handIndex,
			"handId":    h.ID,
		})
	}

	switch action {
	case ActionInsurance:
		amount := r.insuranceAmount(ps)
		ps.InsuranceBet = amount
		ps.InsuranceDecided = true
		ps.CommittedBet += amount
		meta["insuranceBet"] = amount
		r.record(string(action), userID, meta)
		r.resetDeadline()
		return false, nil

	case ActionStand:
		h.Status = HandStood
		ps.ActiveHandIndex++

	case ActionHit:
		h.Cards = append(h.Cards, r.shoe.Draw())
		score := h.Score()
		meta["score"] = score
		if score > 21 {
			h.finish(HandBust, ResultBust, -h.Bet)
			ps.ActiveHandIndex++
		} else if score == 21 {
			h.Status = HandStood
			ps.ActiveHandIndex++
		}

	case ActionDoubleDown:
		extra := h.Bet
		h.Bet += extra
		h.DoubledDown = true
		ps.CommittedBet += extra
		h.Cards = append(h.Cards, r.shoe.Draw())
		score := h.Score()
		meta["score"] = score
		if score > 21 {
			h.finish(HandBust, ResultBust, -h.Bet)
		} else {
			h.Status = HandStood
		}
		ps.ActiveHandIndex++

	case ActionSplit:
		ps.CommittedBet += h.Bet
		left, right := h.Cards[0], h.Cards[1]
		h.Cards = []Card{left, r.shoe.Draw()}
		h.IsSplitHand = true
		second := &Hand{
			ID:          newHandID(),
			Cards:       []Card{right, r.shoe.Draw()},
			Bet:         h.Bet,
			Status:      HandActive,
			IsSplitHand: true,
		}
		ps.Hands = append(ps.Hands[:handIndex+1], append([]*Hand{second}, ps.Hands[handIndex+1:]...)...)
		meta["splitCards"] = []string{string(left), string(right)}
		if second.Score() == 21 {
			second.Status = HandStood
		}
		if h.Score() == 21 {
			h.Status = HandStood
			ps.ActiveHandIndex++
		}

	case ActionSurrender:
		h.finish(HandSurrendered, ResultSurrender, -(h.Bet / 2))
		ps.ActiveHandIndex++
	}

	name := string(action)
	if timedOut {
		name = "turn_timeout_auto_stand"
	}
	r.record(name, userID, meta)

	if r.positionToNextPlayable() {
		return false, nil
	}
	r.settle(ReasonAllHandsDone)
	return true, nil
}

// checkCommitment refuses any action that would push the committed wager
// past the player's starting bankroll. Legality gating should make this
// unreachable.
func (r *Round) checkCommitment(ps *PlayerState, h *Hand, action Action) error {
	var extra int64
	switch action {
	case ActionDoubleDown, ActionSplit:
		extra = h.Bet
	case ActionInsurance:
		extra = r.insuranceAmount(ps)
	}
	if ps.CommittedBet > ps.BankrollAtStart || !ps.canCommit(extra) {
		return fmt.Errorf("%w: committed %d + %d exceeds bankroll %d",
			appErr.ErrInvariantViolation, ps.CommittedBet, extra, ps.BankrollAtStart)
	}
	return nil
}
