package game

import "testing"

func TestBasicStrategy(t *testing.T) {
	cases := []struct {
		name     string
		hand     []Card
		dealerUp Card
		canSplit bool
		want     Action
	}{
		{"hard 16 vs 10 hits", cards("10S", "6D"), "10H", false, ActionHit},
		{"hard 16 vs 6 stands", cards("10S", "6D"), "6H", false, ActionStand},
		{"hard 11 vs 6 doubles", cards("5S", "6D"), "6H", false, ActionDoubleDown},
		{"hard 11 vs ace hits", cards("5S", "6D"), "AH", false, ActionHit},
		{"hard 12 vs 2 hits", cards("10S", "2D"), "2H", false, ActionHit},
		{"hard 8 hits", cards("5S", "3D"), "6H", false, ActionHit},
		{"hard 17 stands", cards("10S", "7D"), "AH", false, ActionStand},
		{"soft 18 vs 9 hits", cards("AS", "7D"), "9H", false, ActionHit},
		{"soft 18 vs 7 stands", cards("AS", "7D"), "7H", false, ActionStand},
		{"soft 17 vs 4 doubles", cards("AS", "6D"), "4H", false, ActionDoubleDown},
		{"soft 19 stands", cards("AS", "8D"), "6H", false, ActionStand},
		{"aces split", cards("AS", "AD"), "10H", true, ActionSplit},
		{"eights split", cards("8S", "8D"), "AH", true, ActionSplit},
		{"nines vs 7 stand", cards("9S", "9D"), "7H", true, ActionStand},
		{"fives double instead", cards("5S", "5D"), "6H", true, ActionDoubleDown},
		{"eights without split hit", cards("8S", "8D"), "10H", false, ActionHit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BasicStrategy(tc.hand, tc.dealerUp, tc.canSplit); got != tc.want {
				t.Fatalf("BasicStrategy(%v vs %s) = %s, want %s", tc.hand, tc.dealerUp, got, tc.want)
			}
		})
	}
}

func TestShouldSplit(t *testing.T) {
	if ShouldSplit(cards("10S", "KD"), "6H") {
		t.Fatalf("ten and king are not a pair")
	}
	if !ShouldSplit(cards("2S", "2D"), "7H") {
		t.Fatalf("twos split against 7")
	}
	if ShouldSplit(cards("4S", "4D"), "4H") {
		t.Fatalf("fours only split against 5 and 6")
	}
}

func TestRecommendedActionIsAlwaysLegal(t *testing.T) {
	// Bankroll too small to double: soft 17 vs 4 downgrades to hit.
	r, _ := newTestRound(t, []string{"AS", "10S", "4D", "6C", "7S", "8D"}, twoSeats(1000, 0)...)
	got := r.RecommendedAction()
	if got != ActionHit {
		t.Fatalf("expected hit, got %s", got)
	}
	if !containsAction(r.LegalActions(), got) {
		t.Fatalf("recommended %s is not legal", got)
	}
}
