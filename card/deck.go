package card

// Suits 按线路编码顺序排列的五种花色。
var Suits = []Suit{Heart, Spade, Diamond, Club, Star}

const (
	// JokersPerDeck Five Crowns 每副牌 3 张 Joker。
	JokersPerDeck = 3
	// DeckSize 单副: 5 花色 × 11 点数 + 3 Joker = 58。
	DeckSize = 5*(RankMax-RankMin+1) + JokersPerDeck
	// TwoDeckSize 对局用两副牌, 共 116 张。
	TwoDeckSize = 2 * DeckSize
)

// OneDeck returns the 58 cards of a single Five Crowns deck.
func OneDeck() []Card {
	out := make([]Card, 0, DeckSize)
	for _, s := range Suits {
		for rank := RankMin; rank <= RankMax; rank++ {
			out = append(out, Make(s, rank))
		}
	}
	for i := 0; i < JokersPerDeck; i++ {
		out = append(out, Joker)
	}
	return out
}

// TwoDecks returns the full 116-card game deck. Duplicates are expected and
// legal; books may contain the same suited card twice.
func TwoDecks() []Card {
	out := make([]Card, 0, TwoDeckSize)
	out = append(out, OneDeck()...)
	out = append(out, OneDeck()...)
	return out
}
