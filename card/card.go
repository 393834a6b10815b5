package card

import "fmt"

// Card 牌枚举
//
// 编码规则:
// - 高4位: 花色 (0:Heart, 1:Spade, 2:Diamond, 3:Club, 4:Star)
// - 低4位: 点数 (3..13, J=11, Q=12, K=13)
// - Joker 使用独立常量
type Card byte

const (
	CardInvalid Card = 0
	Joker       Card = 0x5F
)

// Five Crowns 点数范围：没有 A 和 2。
const (
	RankMin = 3
	RankMax = 13
)

// Make builds a suited card. Out-of-range input yields CardInvalid.
func Make(s Suit, rank int) Card {
	if s > Star || rank < RankMin || rank > RankMax {
		return CardInvalid
	}
	return Card(byte(s)<<4 | byte(rank))
}

func (c Card) IsJoker() bool {
	return c == Joker
}

// Rank 获取牌面值 3-13 (J=11, K=13)；Joker 和无效牌返回 0。
func (c Card) Rank() int {
	if c == CardInvalid || c == Joker {
		return 0
	}
	return int(c & 0x0F)
}

// Suit 花色 (0:Hearts, 1:Spades, 2:Diamonds, 3:Clubs, 4:Stars)
func (c Card) Suit() Suit {
	return Suit(c >> 4)
}

// WildRank returns the rank that is wild in the given round
// (round 1 → 3s, round 11 → Ks).
func WildRank(round int) int {
	return round + 2
}

// IsWild reports whether the card is wild in the given round: every joker is,
// and so is any card whose rank equals round+2. Wildness is never stored on
// the card; it is always evaluated against the current round.
func (c Card) IsWild(round int) bool {
	if c == Joker {
		return true
	}
	return c != CardInvalid && c.Rank() == WildRank(round)
}

// Points 计分: Joker=50, 当前轮 wild=20, 其余按牌面值 (J=11, Q=12, K=13)。
func (c Card) Points(round int) int {
	if c == Joker {
		return 50
	}
	if c.IsWild(round) {
		return 20
	}
	return c.Rank()
}

func (c Card) String() string {
	if c == CardInvalid {
		return "Invalid"
	}
	if c == Joker {
		return "Joker"
	}

	rank := c.Rank()
	rankStr := ""
	switch rank {
	case 10:
		rankStr = "T"
	case 11:
		rankStr = "J"
	case 12:
		rankStr = "Q"
	case 13:
		rankStr = "K"
	default:
		rankStr = fmt.Sprintf("%d", rank)
	}

	return fmt.Sprintf("%s%s", c.Suit(), rankStr)
}
