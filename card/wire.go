package card

import (
	"fmt"
	"strings"
)

// Wire encoding: two characters, suit letter {H,S,D,C,T} plus rank letter
// {3..9,X,J,Q,K} (X=10). Joker is the token "JK". Examples: "H7", "TX", "JK".

const JokerCode = "JK"

var suitLetters = [...]byte{'H', 'S', 'D', 'C', 'T'}

// Code 返回两字符线路编码。
func (c Card) Code() string {
	if c == Joker {
		return JokerCode
	}
	if c == CardInvalid {
		return "??"
	}

	var rankLetter byte
	switch rank := c.Rank(); rank {
	case 10:
		rankLetter = 'X'
	case 11:
		rankLetter = 'J'
	case 12:
		rankLetter = 'Q'
	case 13:
		rankLetter = 'K'
	default:
		rankLetter = byte('0' + rank)
	}
	return string([]byte{suitLetters[c.Suit()], rankLetter})
}

// Parse 将线路编码 (如 "H7", "TX", "JK") 转换为 Card。
func Parse(code string) (Card, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == JokerCode {
		return Joker, nil
	}
	if len(code) != 2 {
		return CardInvalid, fmt.Errorf("invalid card code: %q", code)
	}

	var suit Suit
	switch code[0] {
	case 'H':
		suit = Heart
	case 'S':
		suit = Spade
	case 'D':
		suit = Diamond
	case 'C':
		suit = Club
	case 'T':
		suit = Star
	default:
		return CardInvalid, fmt.Errorf("invalid suit letter: %c", code[0])
	}

	var rank int
	switch code[1] {
	case 'X':
		rank = 10
	case 'J':
		rank = 11
	case 'Q':
		rank = 12
	case 'K':
		rank = 13
	default:
		if code[1] < '3' || code[1] > '9' {
			return CardInvalid, fmt.Errorf("invalid rank letter: %c", code[1])
		}
		rank = int(code[1] - '0')
	}

	return Make(suit, rank), nil
}

// Codes encodes a card slice for the wire.
func Codes(cards []Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Code())
	}
	return out
}

// ParseAll decodes a slice of wire codes; the first bad code aborts.
func ParseAll(codes []string) ([]Card, error) {
	out := make([]Card, 0, len(codes))
	for _, code := range codes {
		c, err := Parse(code)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
