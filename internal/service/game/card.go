package game

import (
	"fmt"
	"strconv"
	"strings"

	appErr "maca-service/pkg/errors"
	"maca-service/pkg/utils/random"
)

// Card is rank followed by a one-letter suit, e.g. "AS", "10H", "QD".
type Card string

// HiddenCard stands in for the dealer hole card in public snapshots.
const HiddenCard Card = "??"

var (
	cardRanks = []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}
	cardSuits = []string{"S", "H", "D", "C"}
)

func (c Card) Rank() string {
	if len(c) < 2 {
		return ""
	}
	return string(c[:len(c)-1])
}

func (c Card) Suit() string {
	if len(c) < 2 {
		return ""
	}
	return string(c[len(c)-1:])
}

// ParseCard normalizes and validates a card literal.
func ParseCard(raw string) (Card, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	c := Card(s)
	if !isKnownRank(c.Rank()) || !isKnownSuit(c.Suit()) {
		return "", fmt.Errorf("%w: %q", appErr.ErrInvalidCard, raw)
	}
	return c, nil
}

func isKnownRank(rank string) bool {
	for _, r := range cardRanks {
		if r == rank {
			return true
		}
	}
	return false
}

func isKnownSuit(suit string) bool {
	for _, s := range cardSuits {
		if s == suit {
			return true
		}
	}
	return false
}

// BuildShoe returns a full 52-card deck in crypto-random order.
// Cards are drawn from the end of the slice.
func BuildShoe() []Card {
	deck := make([]Card, 0, len(cardRanks)*len(cardSuits))
	for _, suit := range cardSuits {
		for _, rank := range cardRanks {
			deck = append(deck, Card(rank+suit))
		}
	}
	for i := len(deck) - 1; i > 0; i-- {
		j := random.Intn(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
	return deck
}

// CardValue counts an ace as 11; HandScore downgrades it when needed.
func CardValue(c Card) int {
	switch rank := c.Rank(); rank {
	case "A":
		return 11
	case "J", "Q", "K":
		return 10
	default:
		v, _ := strconv.Atoi(rank)
		return v
	}
}

// HandScore returns the best total not above 21, or the smallest bust total.
func HandScore(cards []Card) int {
	total := 0
	aces := 0
	for _, c := range cards {
		total += CardValue(c)
		if c.Rank() == "A" {
			aces++
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total
}

func IsNaturalBlackjack(cards []Card) bool {
	return len(cards) == 2 && HandScore(cards) == 21
}

// IsSoftHand reports whether an ace is still being counted as 11.
func IsSoftHand(cards []Card) bool {
	low := 0
	hasAce := false
	for _, c := range cards {
		if c.Rank() == "A" {
			hasAce = true
			low++
			continue
		}
		low += CardValue(c)
	}
	return hasAce && HandScore(cards) > low
}
