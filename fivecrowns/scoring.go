package fivecrowns

import "github.com/jbbjarnason/fivesuitsrummy/card"

// HandPoints 结算: Joker=50, 当前轮 wild=20, 其余按牌面值。
func HandPoints(hand []card.Card, round int) int {
	total := 0
	for _, c := range hand {
		total += c.Points(round)
	}
	return total
}

// Winner returns the seat with the lowest total score (first on ties), or
// NoSeat while the game is unfinished.
func (g *Game) Winner() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != StatusFinished {
		return NoSeat
	}
	best := NoSeat
	for _, p := range g.players {
		if best == NoSeat || p.Score < g.players[best].Score {
			best = p.Seat
		}
	}
	return best
}
