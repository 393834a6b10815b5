package fivecrowns

import (
	"sort"

	"github.com/jbbjarnason/fivesuitsrummy/card"
)

// Meld validation. These predicates are the single semantic authority for
// meld legality; every other layer must call them instead of re-deriving the
// rules. All of them are pure: inputs are card slices plus the round number
// that selects the rotating wild rank.

const minMeldSize = 3

// splitWilds 将牌分为 wild 和自然牌两组, 保持原顺序。
func splitWilds(cards []card.Card, round int) (naturals, wilds []card.Card) {
	for _, c := range cards {
		if c.IsWild(round) {
			wilds = append(wilds, c)
		} else {
			naturals = append(naturals, c)
		}
	}
	return naturals, wilds
}

// IsValidRun reports whether cards form a legal run in the given round:
// at least 3 cards, all naturals of one suit with strictly increasing ranks,
// and enough wilds to fill every interior gap. A wild never substitutes for
// a natural rank already present (duplicate naturals reject the run), and an
// all-wild set is accepted.
func IsValidRun(cards []card.Card, round int) bool {
	if len(cards) < minMeldSize {
		return false
	}
	naturals, wilds := splitWilds(cards, round)
	if len(naturals) == 0 {
		return true
	}

	suit := naturals[0].Suit()
	for _, c := range naturals[1:] {
		if c.Suit() != suit {
			return false
		}
	}

	ranks := make([]int, 0, len(naturals))
	for _, c := range naturals {
		ranks = append(ranks, c.Rank())
	}
	sort.Ints(ranks)

	gaps := 0
	for i := 1; i < len(ranks); i++ {
		if ranks[i] == ranks[i-1] {
			return false // duplicate natural rank
		}
		gaps += ranks[i] - ranks[i-1] - 1
	}

	// Wilds beyond the interior gaps implicitly extend the run at the ends.
	return len(wilds) >= gaps
}

// IsValidBook reports whether cards form a legal book: at least 3 cards, all
// naturals of one rank. Duplicate suits are fine (two decks) and there is no
// upper size bound.
func IsValidBook(cards []card.Card, round int) bool {
	if len(cards) < minMeldSize {
		return false
	}
	naturals, _ := splitWilds(cards, round)
	if len(naturals) == 0 {
		return true
	}
	rank := naturals[0].Rank()
	for _, c := range naturals[1:] {
		if c.Rank() != rank {
			return false
		}
	}
	return true
}

// Valid re-checks the meld under its declared type. All-wild melds keep
// whatever type the caller declared at construction.
func (m Meld) Valid(round int) bool {
	switch m.Type {
	case MeldRun:
		return IsValidRun(m.Cards, round)
	case MeldBook:
		return IsValidBook(m.Cards, round)
	default:
		return false
	}
}

// MeldTypeOf classifies a card set: run first, else book.
func MeldTypeOf(cards []card.Card, round int) (MeldType, bool) {
	if IsValidRun(cards, round) {
		return MeldRun, true
	}
	if IsValidBook(cards, round) {
		return MeldBook, true
	}
	return 0, false
}

// CanExtendMeld reports whether appending newCards keeps the meld legal under
// its existing type. Runs re-sort naturals and recompute gap counts; books
// just re-check rank equality.
func CanExtendMeld(existing Meld, newCards []card.Card, round int) bool {
	if len(newCards) == 0 {
		return false
	}
	combined := make([]card.Card, 0, len(existing.Cards)+len(newCards))
	combined = append(combined, existing.Cards...)
	combined = append(combined, newCards...)
	extended := Meld{Type: existing.Type, Cards: combined}
	return extended.Valid(round)
}

// CanGoOut reports whether hand can be fully resolved as proposedMelds plus a
// single discard: the sizes must match exactly, every meld must validate, and
// the multiset subtraction of meld cards and the discard must empty the hand.
func CanGoOut(hand []card.Card, proposedMelds []Meld, discard card.Card, round int) bool {
	total := 0
	for _, m := range proposedMelds {
		if !m.Valid(round) {
			return false
		}
		total += len(m.Cards)
	}
	if total+1 != len(hand) {
		return false
	}

	rest := card.CardList(nil)
	rest.Init(hand)
	for _, m := range proposedMelds {
		if !rest.RemoveAll(m.Cards) {
			return false
		}
	}
	if !rest.Remove(discard) {
		return false
	}
	return len(rest) == 0
}

// NormalizeRun 将 run 重排为牌值升序, wild 插入空档位置, 多余 wild 追加在尾部。
func NormalizeRun(m Meld, round int) Meld {
	if m.Type != MeldRun {
		return m
	}
	naturals, wilds := splitWilds(m.Cards, round)
	if len(naturals) == 0 {
		return m
	}
	sort.Slice(naturals, func(i, j int) bool {
		return naturals[i].Rank() < naturals[j].Rank()
	})

	out := make([]card.Card, 0, len(m.Cards))
	out = append(out, naturals[0])
	for i := 1; i < len(naturals); i++ {
		for gap := naturals[i-1].Rank() + 1; gap < naturals[i].Rank(); gap++ {
			if len(wilds) > 0 {
				out = append(out, wilds[0])
				wilds = wilds[1:]
			}
		}
		out = append(out, naturals[i])
	}
	out = append(out, wilds...)
	return Meld{Type: MeldRun, Cards: out}
}
