package game

import (
	"fmt"

	appErr "maca-service/pkg/errors"
)

// Shoe is the stack of undealt cards for one round.
type Shoe struct {
	cards []Card
}

func NewShoe() *Shoe {
	return &Shoe{cards: BuildShoe()}
}

// NewForcedShoe builds a shoe that deals drawOrder first, in order.
// Once exhausted it refills with a shuffled deck like any other shoe.
func NewForcedShoe(drawOrder []string) (*Shoe, error) {
	if len(drawOrder) == 0 {
		return nil, appErr.ErrEmptyDrawOrder
	}
	cards := make([]Card, len(drawOrder))
	for i, raw := range drawOrder {
		c, err := ParseCard(raw)
		if err != nil {
			return nil, fmt.Errorf("draw order position %d: %w", i, err)
		}
		cards[len(drawOrder)-1-i] = c
	}
	return &Shoe{cards: cards}, nil
}

func (s *Shoe) Draw() Card {
	if len(s.cards) == 0 {
		s.cards = BuildShoe()
	}
	c := s.cards[len(s.cards)-1]
	s.cards = s.cards[:len(s.cards)-1]
	return c
}

func (s *Shoe) Remaining() int {
	return len(s.cards)
}
