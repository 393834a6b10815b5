package fivecrowns

import (
	"fmt"

	"github.com/jbbjarnason/fivesuitsrummy/card"
)

type Config struct {
	// Seats
	MaxPlayers int
	MinPlayers int

	// RNG seed for every shuffle of this game. Replaying the same seed and
	// command sequence reproduces the game exactly.
	Seed int64

	// DeckOverride skips shuffling and deals from the given stack as-is
	// (cards pop from the back). Test hook; nil in production.
	DeckOverride []card.Card
}

const (
	DefaultMinPlayers = 2
	// DefaultMaxPlayers 两副牌最多可供 7 人打到第 11 轮。
	DefaultMaxPlayers = 7
)

func (c Config) validate() error {
	if c.MinPlayers < 2 {
		return ErrInvalidState("MinPlayers must be >= 2")
	}
	if c.MaxPlayers < c.MinPlayers {
		return ErrInvalidState("MaxPlayers must be >= MinPlayers")
	}
	if c.MaxPlayers > DefaultMaxPlayers {
		return ErrInvalidState(fmt.Sprintf("MaxPlayers must be <= %d", DefaultMaxPlayers))
	}
	return nil
}
