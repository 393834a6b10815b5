package fivecrowns

import (
	"testing"

	"github.com/jbbjarnason/fivesuitsrummy/card"
)

func mustCards(t *testing.T, codes ...string) []card.Card {
	t.Helper()
	cards, err := card.ParseAll(codes)
	if err != nil {
		t.Fatalf("bad card codes %v: %v", codes, err)
	}
	return cards
}

func TestIsValidRun(t *testing.T) {
	cases := []struct {
		name  string
		cards []string
		round int
		want  bool
	}{
		{"too short", []string{"H4", "H5"}, 1, false},
		{"plain run of three", []string{"H4", "H5", "H6"}, 1, true},
		{"unsorted input", []string{"H6", "H4", "H5"}, 1, true},
		{"mixed suits", []string{"H4", "S5", "H6"}, 1, false},
		{"joker fills gap", []string{"H4", "JK", "H6"}, 1, true},
		{"wild rank fills gap", []string{"H4", "H3", "H6"}, 1, true}, // 3s wild in round 1
		{"two gaps one wild", []string{"H4", "JK", "H7"}, 1, false},
		{"duplicate natural rank", []string{"H4", "H4", "H5"}, 2, false},
		{"trailing wild extends", []string{"H4", "H5", "H6", "JK"}, 1, true},
		{"all wild", []string{"JK", "JK", "H3"}, 1, true},
		// Wilds fill interior gap slots; they never stand in for a natural
		// rank that is already present in the run.
		{"wild cannot shadow natural", []string{"H4", "H7", "JK", "H8"}, 5, false},
		{"interior gaps filled", []string{"H4", "H5", "H7", "JK", "H8"}, 5, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cards := mustCards(t, tc.cards...)
			if got := IsValidRun(cards, tc.round); got != tc.want {
				t.Errorf("IsValidRun(%v, %d)=%v, want %v", tc.cards, tc.round, got, tc.want)
			}
		})
	}
}

func TestIsValidBook(t *testing.T) {
	cases := []struct {
		name  string
		cards []string
		round int
		want  bool
	}{
		{"too short", []string{"HQ", "SQ"}, 1, false},
		{"plain book", []string{"HQ", "SQ", "DQ"}, 1, true},
		{"duplicate suits from two decks", []string{"HQ", "HQ", "SQ"}, 1, true},
		{"mixed ranks", []string{"HQ", "SQ", "DJ"}, 1, false},
		{"wild completes book", []string{"HQ", "SQ", "JK"}, 1, true},
		{"all wild", []string{"JK", "JK", "JK"}, 1, true},
		{"no upper bound", []string{"HQ", "SQ", "DQ", "CQ", "TQ", "HQ", "JK"}, 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cards := mustCards(t, tc.cards...)
			if got := IsValidBook(cards, tc.round); got != tc.want {
				t.Errorf("IsValidBook(%v, %d)=%v, want %v", tc.cards, tc.round, got, tc.want)
			}
		})
	}
}

// Run and book can both accept a card set only when the naturals share suit
// and rank, i.e. when there is at most one natural card.
func TestRunBookOverlapOnlyWithoutNaturals(t *testing.T) {
	sets := [][]string{
		{"H4", "H5", "H6"},
		{"HQ", "HQ", "SQ"},
		{"H4", "JK", "H6"},
		{"JK", "JK", "H3"},
		{"H4", "S4", "D4"},
		{"JK", "JK", "H7"},
	}
	for _, codes := range sets {
		cards := mustCards(t, codes...)
		run := IsValidRun(cards, 1)
		book := IsValidBook(cards, 1)
		if run && book {
			naturals, _ := splitWilds(cards, 1)
			if len(naturals) > 1 {
				t.Errorf("%v validates as both run and book with %d naturals", codes, len(naturals))
			}
		}
	}
}

func TestCanExtendMeld(t *testing.T) {
	round := 1
	run := Meld{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "H6")}

	if !CanExtendMeld(run, mustCards(t, "H7"), round) {
		t.Error("H7 should extend H4-H6 run")
	}
	if !CanExtendMeld(run, mustCards(t, "JK"), round) {
		t.Error("joker should extend run at the end")
	}
	if CanExtendMeld(run, mustCards(t, "S7"), round) {
		t.Error("off-suit card must not extend run")
	}
	if CanExtendMeld(run, mustCards(t, "H5"), round) {
		t.Error("duplicate rank must not extend run")
	}
	if CanExtendMeld(run, nil, round) {
		t.Error("empty extension is not an extension")
	}

	book := Meld{Type: MeldBook, Cards: mustCards(t, "HQ", "SQ", "DQ")}
	if !CanExtendMeld(book, mustCards(t, "HQ"), round) {
		t.Error("duplicate suit should extend book")
	}
	if CanExtendMeld(book, mustCards(t, "HJ"), round) {
		t.Error("different rank must not extend book")
	}

	// Property: CanExtendMeld ⇒ combined set is still a valid meld of the
	// declared type.
	exts := [][]string{{"H7"}, {"JK"}, {"H8", "JK"}, {"H3"}, {"S7"}, {"H5"}}
	for _, ext := range exts {
		cards := mustCards(t, ext...)
		if CanExtendMeld(run, cards, round) {
			combined := append(append([]card.Card{}, run.Cards...), cards...)
			if !(Meld{Type: MeldRun, Cards: combined}).Valid(round) {
				t.Errorf("extension %v accepted but combined meld invalid", ext)
			}
		}
	}
}

func TestCanGoOut(t *testing.T) {
	round := 1
	hand := mustCards(t, "H4", "H5", "H6", "C8")
	melds := []Meld{{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "H6")}}
	discard := mustCards(t, "C8")[0]

	if !CanGoOut(hand, melds, discard, round) {
		t.Error("expected go-out to validate")
	}

	bigger := append(append([]card.Card{}, hand...), mustCards(t, "C9")...)
	if CanGoOut(bigger, melds, discard, round) {
		t.Error("leftover card must block go-out")
	}

	if CanGoOut(hand, melds, mustCards(t, "C9")[0], round) {
		t.Error("discard not in hand must block go-out")
	}

	badMelds := []Meld{{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "S6")}}
	if CanGoOut(hand, badMelds, discard, round) {
		t.Error("invalid meld must block go-out")
	}

	// Meld uses the same physical card twice.
	dupMelds := []Meld{
		{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "H6")},
		{Type: MeldBook, Cards: mustCards(t, "H4", "H4", "H4")},
	}
	sevenHand := mustCards(t, "H4", "H5", "H6", "H4", "H4", "H4", "C8")
	if !CanGoOut(sevenHand, dupMelds, discard, round) {
		t.Error("two-deck duplicates should be usable across melds")
	}
	shortHand := mustCards(t, "H4", "H5", "H6", "H4", "H4", "C8")
	if CanGoOut(shortHand, dupMelds, discard, round) {
		t.Error("missing duplicate must block go-out")
	}
}

func TestNormalizeRun(t *testing.T) {
	round := 5 // 7s wild
	m := Meld{Type: MeldRun, Cards: mustCards(t, "H8", "JK", "H7", "H4", "H5")}
	norm := NormalizeRun(m, round)
	want := mustCards(t, "H4", "H5", "JK", "H7", "H8")
	if len(norm.Cards) != len(want) {
		t.Fatalf("normalize changed card count: %v", norm.Cards)
	}
	for i := range want {
		if norm.Cards[i] != want[i] {
			t.Fatalf("normalized order %v, want %v", card.Codes(norm.Cards), card.Codes(want))
		}
	}
}
