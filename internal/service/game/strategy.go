package game

// Basic strategy charts indexed by dealer up-card value (2..11). Columns 0
// and 1 are unused padding.
var (
	softStrategy = map[int]string{
		13: "  hhhddhhhhh",
		14: "  hhhddhhhhh",
		15: "  hhdddhhhhh",
		16: "  hhdddhhhhh",
		17: "  hddddhhhhh",
		18: "  sddddsshhh",
	}
	hardStrategy = map[int]string{
		9:  "  hdddhhhhhh",
		10: "  ddddddddhh",
		11: "  dddddddddh",
		12: "  hhssshhhhh",
		13: "  ssssshhhhh",
		14: "  ssssshhhhh",
		15: "  ssssshhhhh",
		16: "  ssssshhhhh",
	}
	// Pair rank -> dealer up-card ranks to split against. Aces and eights
	// always split, fives never do.
	pairSplits = map[string]map[string]bool{
		"2": rankSet("2", "3", "4", "5", "6", "7"),
		"3": rankSet("2", "3", "4", "5", "6", "7"),
		"4": rankSet("5", "6"),
		"6": rankSet("2", "3", "4", "5", "6"),
		"7": rankSet("2", "3", "4", "5", "6", "7"),
		"9": rankSet("2", "3", "4", "5", "6", "8", "9"),
	}
)

func rankSet(ranks ...string) map[string]bool {
	out := make(map[string]bool, len(ranks))
	for _, r := range ranks {
		out[r] = true
	}
	return out
}

// ShouldSplit applies the pair-splitting chart.
func ShouldSplit(pair []Card, dealerUp Card) bool {
	if len(pair) != 2 || pair[0].Rank() != pair[1].Rank() {
		return false
	}
	switch rank := pair[0].Rank(); rank {
	case "A", "8":
		return true
	case "5":
		return false
	default:
		return pairSplits[rank][dealerUp.Rank()]
	}
}

func chartMove(chart map[int]string, score, dealerValue int) (Action, bool) {
	row, ok := chart[score]
	if !ok || dealerValue < 0 || dealerValue >= len(row) {
		return "", false
	}
	switch row[dealerValue] {
	case 's':
		return ActionStand, true
	case 'd':
		return ActionDoubleDown, true
	default:
		return ActionHit, true
	}
}

// BasicStrategy returns the textbook move for a hand against the dealer
// up-card, ignoring what the table currently allows.
func BasicStrategy(cards []Card, dealerUp Card, canSplit bool) Action {
	score := HandScore(cards)
	if score >= 19 {
		return ActionStand
	}
	if canSplit && ShouldSplit(cards, dealerUp) {
		return ActionSplit
	}
	dealerValue := CardValue(dealerUp)

	if IsSoftHand(cards) {
		if move, ok := chartMove(softStrategy, score, dealerValue); ok {
			return move
		}
		return ActionHit
	}
	switch {
	case score <= 8:
		return ActionHit
	case score >= 17:
		return ActionStand
	}
	if move, ok := chartMove(hardStrategy, score, dealerValue); ok {
		return move
	}
	return ActionHit
}

// RecommendedAction is the basic-strategy move for the current hand,
// downgraded to a legal action. Empty when nobody can act.
func (r *Round) RecommendedAction() Action {
	legal := r.LegalActions()
	if len(legal) == 0 {
		return ""
	}
	h := r.currentHand()
	if h == nil || len(h.Cards) == 0 || len(r.dealerCards) == 0 {
		return ""
	}

	move := BasicStrategy(h.Cards, r.dealerCards[0], containsAction(legal, ActionSplit))
	if containsAction(legal, move) {
		return move
	}
	if containsAction(legal, ActionHit) {
		return ActionHit
	}
	return legal[0]
}
