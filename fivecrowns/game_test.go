package fivecrowns

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/jbbjarnason/fivesuitsrummy/card"
)

// stackedGame builds a started 2+ player round-1 game whose deal is fully
// scripted: hands[p] is seat p's dealt hand (3 cards each in round 1),
// discardTop starts the discard pile, and stockTop lists the cards the stock
// will yield next, in draw order.
func stackedGame(t *testing.T, hands [][]string, discardTop string, stockTop []string) (*Game, []int64) {
	t.Helper()

	n := len(hands)
	handSize := HandSize(FirstRound)
	var drawOrder []card.Card
	for i := 0; i < handSize; i++ {
		for p := 0; p < n; p++ {
			if len(hands[p]) != handSize {
				t.Fatalf("seat %d hand must have %d cards", p, handSize)
			}
			drawOrder = append(drawOrder, mustCards(t, hands[p][i])...)
		}
	}
	drawOrder = append(drawOrder, mustCards(t, discardTop)...)
	if len(stockTop) > 0 {
		drawOrder = append(drawOrder, mustCards(t, stockTop...)...)
	}

	filler := card.CardList(nil)
	filler.Init(card.TwoDecks())
	if !filler.RemoveAll(drawOrder) {
		t.Fatalf("scripted cards exceed the two-deck multiset")
	}

	// PopCard takes from the back, so the scripted sequence goes last,
	// reversed.
	deck := make([]card.Card, 0, card.TwoDeckSize)
	deck = append(deck, filler...)
	for i := len(drawOrder) - 1; i >= 0; i-- {
		deck = append(deck, drawOrder[i])
	}

	g, err := NewGame("g-test", Config{
		MinPlayers:   2,
		MaxPlayers:   DefaultMaxPlayers,
		Seed:         1,
		DeckOverride: deck,
	})
	if err != nil {
		t.Fatalf("NewGame err: %v", err)
	}

	users := make([]int64, n)
	for p := 0; p < n; p++ {
		users[p] = int64(101 + p)
		if _, err := g.AddPlayer(users[p]); err != nil {
			t.Fatalf("AddPlayer seat %d err: %v", p, err)
		}
	}
	if err := g.StartGame(); err != nil {
		t.Fatalf("StartGame err: %v", err)
	}
	return g, users
}

func TestStartGameDeals(t *testing.T) {
	g, err := NewGame("g1", Config{MinPlayers: 2, MaxPlayers: 4, Seed: 42})
	if err != nil {
		t.Fatalf("NewGame err: %v", err)
	}
	for _, uid := range []int64{11, 22} {
		if _, err := g.AddPlayer(uid); err != nil {
			t.Fatalf("AddPlayer err: %v", err)
		}
	}
	if err := g.StartGame(); err != nil {
		t.Fatalf("StartGame err: %v", err)
	}

	snap := g.Snapshot()
	if snap.Status != StatusActive || snap.Round != 1 {
		t.Fatalf("expected active round 1, got status=%v round=%d", snap.Status, snap.Round)
	}
	if snap.TurnIndex != 0 || snap.Phase != PhaseMustDraw {
		t.Fatalf("seat 0 must open with a draw, got turn=%d phase=%v", snap.TurnIndex, snap.Phase)
	}
	for _, ps := range snap.Players {
		if len(ps.Hand) != 3 {
			t.Errorf("seat %d: expected 3 cards, got %d", ps.Seat, len(ps.Hand))
		}
	}
	if snap.DiscardTop == card.CardInvalid {
		t.Error("discard pile must open with one card")
	}
	if snap.StockCount != card.TwoDeckSize-2*3-1 {
		t.Errorf("unexpected stock count %d", snap.StockCount)
	}
	if total := g.TotalCards(); total != card.TwoDeckSize {
		t.Errorf("conservation violated: %d cards", total)
	}
}

func TestLobbyRules(t *testing.T) {
	g, _ := NewGame("g2", Config{MinPlayers: 2, MaxPlayers: 2, Seed: 1})
	if err := g.StartGame(); !errors.Is(err, ErrNotEnough) {
		t.Fatalf("expected ErrNotEnough, got %v", err)
	}
	if _, err := g.AddPlayer(1); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddPlayer(1); !errors.Is(err, ErrAlreadyInGame) {
		t.Fatalf("expected ErrAlreadyInGame, got %v", err)
	}
	if _, err := g.AddPlayer(2); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddPlayer(3); !errors.Is(err, ErrGameFull) {
		t.Fatalf("expected ErrGameFull, got %v", err)
	}
	if err := g.DrawFromStock(1); !errors.Is(err, ErrGameNotActive) {
		t.Fatalf("draw in lobby: expected ErrGameNotActive, got %v", err)
	}
	if err := g.StartGame(); err != nil {
		t.Fatal(err)
	}
	if err := g.RemovePlayer(2); !errors.Is(err, ErrNotInLobby) {
		t.Fatalf("leave active game: expected ErrNotInLobby, got %v", err)
	}
}

// Scenario: round 1 (3s wild), draw the discard into H4-H7, meld the run,
// discard the leftover.
func TestRoundOneRunMeld(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"S9", "D9", "SX"}},
		"H7", nil)

	if err := g.DrawFromDiscard(users[0]); err != nil {
		t.Fatalf("DrawFromDiscard err: %v", err)
	}
	melds := []Meld{{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "H6")}}
	if err := g.LayMelds(users[0], melds); err != nil {
		t.Fatalf("LayMelds err: %v", err)
	}
	if err := g.Discard(users[0], mustCards(t, "H7")[0]); err != nil {
		t.Fatalf("Discard err: %v", err)
	}

	snap := g.Snapshot()
	p0 := snap.Players[0]
	if len(p0.Melds) != 1 || len(p0.Melds[0].Cards) != 3 || p0.Melds[0].Type != MeldRun {
		t.Fatalf("expected one run of 3, got %+v", p0.Melds)
	}
	if len(p0.Hand) != 0 {
		t.Errorf("expected empty hand, got %v", card.Codes(p0.Hand))
	}
	if snap.TurnIndex != 1 || snap.Phase != PhaseMustDraw {
		t.Errorf("turn must advance to seat 1, got turn=%d phase=%v", snap.TurnIndex, snap.Phase)
	}
	// Discarding the last card is going out, same as an explicit GoOut.
	if snap.WentOutSeat != 0 || !snap.FinalTurn {
		t.Errorf("expected went-out seat 0 with final turn running, got seat=%d finalTurn=%v",
			snap.WentOutSeat, snap.FinalTurn)
	}
	if !snap.Players[0].HasGoneOut {
		t.Error("seat 0 must be marked as gone out")
	}
	if total := g.TotalCards(); total != card.TwoDeckSize {
		t.Errorf("conservation violated: %d cards", total)
	}
}

// Scenario: emptying the hand via LayMelds + Discard (no explicit GoOut)
// starts the final-turn phase, locks out lay-offs and ends the round after
// the other player's single remaining turn.
func TestGoOutByDiscardingLastCard(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"H7", "H8", "S3"}},
		"C8", []string{"C9", "H9"})

	if err := g.DrawFromStock(users[0]); err != nil { // C9
		t.Fatal(err)
	}
	if err := g.LayMelds(users[0], []Meld{{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "H6")}}); err != nil {
		t.Fatal(err)
	}
	if err := g.Discard(users[0], mustCards(t, "C9")[0]); err != nil {
		t.Fatal(err)
	}

	snap := g.Snapshot()
	if snap.WentOutSeat != 0 || !snap.FinalTurn {
		t.Fatalf("expected went-out seat 0 in final turn, got seat=%d finalTurn=%v",
			snap.WentOutSeat, snap.FinalTurn)
	}

	// P1's final turn: lay-off is locked, one draw+discard ends the round.
	if err := g.DrawFromStock(users[1]); err != nil { // H9
		t.Fatal(err)
	}
	if err := g.LayOff(users[1], 0, 0, mustCards(t, "H7")); !errors.Is(err, ErrFinalTurnPhase) {
		t.Fatalf("lay-off in final turn: expected ErrFinalTurnPhase, got %v", err)
	}
	if err := g.Discard(users[1], mustCards(t, "H8")[0]); err != nil {
		t.Fatal(err)
	}

	snap = g.Snapshot()
	if snap.Round != 2 {
		t.Fatalf("round must end after the final turn, got round %d", snap.Round)
	}
	// P1 kept H7, S3 (wild, 20) and the drawn H9: 7+20+9.
	if got := snap.Players[1].Score; got != 36 {
		t.Errorf("expected 36 points for seat 1, got %d", got)
	}
	if got := snap.Players[0].Score; got != 0 {
		t.Errorf("seat 0 went out and must score 0, got %d", got)
	}
	if snap.TurnIndex != 1 || snap.WentOutSeat != NoSeat || snap.FinalTurn {
		t.Errorf("round 2 must open at seat 1 with bookkeeping reset, got %+v", snap)
	}
	for _, ps := range snap.Players {
		if len(ps.Hand) != HandSize(2) {
			t.Errorf("seat %d: expected %d cards in round 2, got %d", ps.Seat, HandSize(2), len(ps.Hand))
		}
	}
}

// Scenario: cross-player lay-off extends the target meld and consumes the
// card from the layer's hand.
func TestLayOffCrossPlayer(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"H7", "D9", "SX"}},
		"SQ", []string{"C5", "C6"})

	// P0: draw stock, meld the run, discard.
	if err := g.DrawFromStock(users[0]); err != nil {
		t.Fatal(err)
	}
	if err := g.LayMelds(users[0], []Meld{{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "H6")}}); err != nil {
		t.Fatal(err)
	}
	if err := g.Discard(users[0], mustCards(t, "C5")[0]); err != nil {
		t.Fatal(err)
	}

	// P1: draw stock, lay H7 off on P0's run.
	if err := g.DrawFromStock(users[1]); err != nil {
		t.Fatal(err)
	}
	if err := g.LayOff(users[1], 0, 0, mustCards(t, "H7")); err != nil {
		t.Fatalf("LayOff err: %v", err)
	}

	snap := g.Snapshot()
	if got := len(snap.Players[0].Melds[0].Cards); got != 4 {
		t.Fatalf("expected meld of 4 after lay-off, got %d", got)
	}
	if card.CardList(snap.Players[1].Hand).Contains(mustCards(t, "H7")[0]) {
		t.Error("H7 must leave the layer's hand")
	}
	if total := g.TotalCards(); total != card.TwoDeckSize {
		t.Errorf("conservation violated: %d cards", total)
	}
}

// Scenario: go-out starts the final-turn phase, lay-off is locked out, every
// other player gets exactly one turn, then the round ends and scores count
// the remaining hands.
func TestGoOutFinalTurnAndScoring(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"H7", "H8", "S3"}},
		"C8", []string{"C9", "H9"})

	if err := g.DrawFromStock(users[0]); err != nil { // C9
		t.Fatal(err)
	}
	melds := []Meld{{Type: MeldRun, Cards: mustCards(t, "H4", "H5", "H6")}}
	if err := g.GoOut(users[0], melds, mustCards(t, "C9")[0]); err != nil {
		t.Fatalf("GoOut err: %v", err)
	}

	snap := g.Snapshot()
	if snap.WentOutSeat != 0 || !snap.FinalTurn {
		t.Fatalf("expected went-out seat 0 in final turn, got %+v", snap)
	}
	if snap.TurnIndex != 1 || snap.Phase != PhaseMustDraw {
		t.Fatalf("seat 1 must get the final turn")
	}

	// Seat 1 draws, then lay-off is rejected without touching state.
	if err := g.DrawFromStock(users[1]); err != nil { // H9
		t.Fatal(err)
	}
	before := g.Snapshot()
	err := g.LayOff(users[1], 0, 0, mustCards(t, "H7"))
	if !errors.Is(err, ErrFinalTurnPhase) {
		t.Fatalf("expected ErrFinalTurnPhase, got %v", err)
	}
	after := g.Snapshot()
	if len(after.Players[1].Hand) != len(before.Players[1].Hand) ||
		len(after.Players[0].Melds[0].Cards) != len(before.Players[0].Melds[0].Cards) {
		t.Fatal("rejected lay-off must not mutate state")
	}

	// Seat 1 discards the drawn card; the round ends. Remaining hand is
	// H7(7) + H8(8) + S3(wild in round 1, 20) = 35 points.
	if err := g.Discard(users[1], mustCards(t, "H9")[0]); err != nil {
		t.Fatal(err)
	}

	snap = g.Snapshot()
	if snap.Round != 2 {
		t.Fatalf("expected round 2, got %d", snap.Round)
	}
	if snap.Players[0].Score != 0 {
		t.Errorf("seat 0 went out and must score 0, got %d", snap.Players[0].Score)
	}
	if snap.Players[1].Score != 35 {
		t.Errorf("seat 1 expected 35 points, got %d", snap.Players[1].Score)
	}
	if snap.TurnIndex != 1 {
		t.Errorf("round 2 must open at seat 1, got %d", snap.TurnIndex)
	}
	for _, ps := range snap.Players {
		if len(ps.Hand) != HandSize(2) {
			t.Errorf("seat %d: expected %d cards in round 2, got %d", ps.Seat, HandSize(2), len(ps.Hand))
		}
		if len(ps.Melds) != 0 {
			t.Errorf("melds must reset between rounds")
		}
	}
	if snap.WentOutSeat != NoSeat || snap.FinalTurn {
		t.Error("final-turn bookkeeping must reset between rounds")
	}
	if total := g.TotalCards(); total != card.TwoDeckSize {
		t.Errorf("conservation violated: %d cards", total)
	}
}

func TestTurnAndPhaseErrors(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"H7", "H8", "S9"}},
		"C8", []string{"C9"})

	if err := g.DrawFromStock(users[1]); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("expected ErrNotYourTurn, got %v", err)
	}
	if err := g.Discard(users[0], mustCards(t, "H4")[0]); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("discard before draw: expected ErrWrongPhase, got %v", err)
	}
	if err := g.DrawFromStock(users[0]); err != nil {
		t.Fatal(err)
	}
	if err := g.DrawFromStock(users[0]); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("second draw: expected ErrWrongPhase, got %v", err)
	}
	if err := g.Discard(users[0], mustCards(t, "SK")[0]); !errors.Is(err, ErrCardNotInHand) {
		t.Errorf("expected ErrCardNotInHand, got %v", err)
	}
	if err := g.DrawFromStock(999); !errors.Is(err, ErrNotInGame) {
		t.Errorf("expected ErrNotInGame, got %v", err)
	}
}

// An empty discard pile rejects the draw with its own code. The phase is
// still must-draw, so wrong_phase would point the client at the wrong thing.
func TestDrawFromEmptyDiscard(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"H7", "H8", "S9"}},
		"C8", []string{"C9"})

	g.mu.Lock()
	g.discard = card.CardList{}
	g.mu.Unlock()

	if err := g.DrawFromDiscard(users[0]); !errors.Is(err, ErrDiscardEmpty) {
		t.Fatalf("expected ErrDiscardEmpty, got %v", err)
	}
	// The stock still serves and the turn is intact.
	if err := g.DrawFromStock(users[0]); err != nil {
		t.Fatal(err)
	}
}

// Exhausting the stock recycles the discard pile (all but its top card)
// through the seeded rng.
func TestStockReshuffle(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"H7", "H8", "S9"}},
		"C8", nil)

	g.mu.Lock()
	recycled := mustCards(t, "D3", "D4", "D5")
	top := mustCards(t, "D6")[0]
	g.stock = card.CardList{}
	g.discard = card.CardList{}
	g.discard.Add(recycled...)
	g.discard.Add(top)
	g.mu.Unlock()

	if err := g.DrawFromStock(users[0]); err != nil {
		t.Fatalf("DrawFromStock with empty stock err: %v", err)
	}

	snap := g.Snapshot()
	if snap.DiscardTop != top {
		t.Errorf("discard top must survive the reshuffle, got %v", snap.DiscardTop)
	}
	if snap.StockCount != len(recycled)-1 {
		t.Errorf("expected %d cards back in stock, got %d", len(recycled)-1, snap.StockCount)
	}
	drawn := snap.Players[0].Hand[len(snap.Players[0].Hand)-1]
	if !card.CardList(recycled).Contains(drawn) {
		t.Errorf("drawn card %v must come from the recycled pile", drawn)
	}
}

func TestStockEmptyNoRecycle(t *testing.T) {
	g, users := stackedGame(t,
		[][]string{{"H4", "H5", "H6"}, {"H7", "H8", "S9"}},
		"C8", nil)

	g.mu.Lock()
	g.stock = card.CardList{}
	g.discard = card.CardList{mustCards(t, "D6")[0]}
	g.mu.Unlock()

	if err := g.DrawFromStock(users[0]); !errors.Is(err, ErrStockEmpty) {
		t.Fatalf("expected ErrStockEmpty, got %v", err)
	}
}

// Property: the 116-card conservation law holds after every committed command
// of a long random playout, including natural stock reshuffles.
func TestConservationUnderRandomPlay(t *testing.T) {
	g, err := NewGame("g-prop", Config{MinPlayers: 2, MaxPlayers: 4, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	users := []int64{1, 2, 3}
	for _, uid := range users {
		if _, err := g.AddPlayer(uid); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.StartGame(); err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(99))
	for step := 0; step < 600; step++ {
		snap := g.Snapshot()
		actor := users[snap.TurnIndex]
		if snap.Phase == PhaseMustDraw {
			if rng.Intn(3) == 0 && snap.DiscardTop != card.CardInvalid {
				err = g.DrawFromDiscard(actor)
			} else {
				err = g.DrawFromStock(actor)
			}
		} else {
			hand := snap.Players[snap.TurnIndex].Hand
			err = g.Discard(actor, hand[rng.Intn(len(hand))])
		}
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if total := g.TotalCards(); total != card.TwoDeckSize {
			t.Fatalf("step %d: conservation violated, %d cards", step, total)
		}
	}

	// Hand sizes: round+2 after a completed turn, round+3 mid-turn.
	snap := g.Snapshot()
	for _, ps := range snap.Players {
		want := HandSize(snap.Round)
		if ps.Seat == snap.TurnIndex && snap.Phase == PhaseMustDiscard {
			want++
		}
		if len(ps.Hand) != want {
			t.Errorf("seat %d: expected %d cards, got %d", ps.Seat, want, len(ps.Hand))
		}
	}
}
