package fivecrowns

import "github.com/jbbjarnason/fivesuitsrummy/card"

type MeldSnapshot struct {
	Type  MeldType
	Cards []card.Card
}

type PlayerSnapshot struct {
	UserID     int64
	Seat       int
	Hand       []card.Card
	Melds      []MeldSnapshot
	Score      int
	HasGoneOut bool
}

// Snapshot is a full copy of game state. Projections for individual players
// (hiding the other hands) are built from it by the hub; the engine itself
// always exposes everything.
type Snapshot struct {
	GameID     string
	Status     Status
	MaxPlayers int

	Round       int
	TurnIndex   int
	Phase       TurnPhase
	WentOutSeat int // NoSeat while nobody has gone out
	FinalTurn   bool

	StockCount int
	DiscardTop card.Card // CardInvalid when the pile is empty

	Players []PlayerSnapshot
}

func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		GameID:      g.id,
		Status:      g.status,
		MaxPlayers:  g.cfg.MaxPlayers,
		Round:       g.round,
		TurnIndex:   g.turnIndex,
		Phase:       g.phase,
		WentOutSeat: g.wentOutSeat,
		FinalTurn:   g.finalTurn,
		StockCount:  g.stock.Count(),
		DiscardTop:  g.discard.Top(),
	}

	for _, p := range g.players {
		ps := PlayerSnapshot{
			UserID:     p.UserID,
			Seat:       p.Seat,
			Hand:       append([]card.Card{}, p.Hand...),
			Score:      p.Score,
			HasGoneOut: p.HasGoneOut,
		}
		for _, m := range p.Melds {
			ps.Melds = append(ps.Melds, MeldSnapshot{
				Type:  m.Type,
				Cards: append([]card.Card{}, m.Cards...),
			})
		}
		s.Players = append(s.Players, ps)
	}
	return s
}
