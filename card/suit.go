package card

type Suit byte

const (
	Heart   Suit = iota // ♥️
	Spade               // ♠️
	Diamond             // ♦️
	Club                // ♣️
	Star                // ★
)

func (s Suit) String() string {
	switch s {
	case Heart:
		return "♥️"
	case Spade:
		return "♠️"
	case Diamond:
		return "♦️"
	case Club:
		return "♣️"
	case Star:
		return "★"
	}
	return "?"
}
