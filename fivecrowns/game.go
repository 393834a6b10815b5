package fivecrowns

import (
	"math/rand"
	"sync"

	"github.com/jbbjarnason/fivesuitsrummy/card"
)

// Game is the authoritative per-game state machine. All mutating commands
// fail without side effects when any check fails; validity checks run before
// the first mutation so the method boundary is transactional.
//
// The hub owns one Game per active game and drives it from a single command
// queue; the internal mutex only guards against snapshot reads from other
// goroutines.
type Game struct {
	cfg Config
	rng *rand.Rand

	mu sync.Mutex

	id      string
	status  Status
	players []*Player // seat order

	stock   card.CardList
	discard card.CardList

	round       int
	turnIndex   int
	phase       TurnPhase
	wentOutSeat int
	finalTurn   bool
}

func NewGame(id string, cfg Config) (*Game, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Game{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		id:          id,
		status:      StatusLobby,
		wentOutSeat: NoSeat,
	}, nil
}

func (g *Game) ID() string { return g.id }

// AddPlayer seats a user at the next free seat. Lobby only.
func (g *Game) AddPlayer(userID int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusLobby {
		return NoSeat, ErrNotInLobby
	}
	if len(g.players) >= g.cfg.MaxPlayers {
		return NoSeat, ErrGameFull
	}
	if g.seatOf(userID) != NoSeat {
		return NoSeat, ErrAlreadyInGame
	}

	seat := len(g.players)
	g.players = append(g.players, &Player{UserID: userID, Seat: seat})
	return seat, nil
}

// RemovePlayer unseats a user and compacts seat numbers. Lobby only; active
// games cannot be left.
func (g *Game) RemovePlayer(userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusLobby {
		return ErrNotInLobby
	}
	seat := g.seatOf(userID)
	if seat == NoSeat {
		return ErrNotInGame
	}
	g.players = append(g.players[:seat], g.players[seat+1:]...)
	for i, p := range g.players {
		p.Seat = i
	}
	return nil
}

// StartGame 开局: Lobby → Active, 洗牌发牌, 座位 0 先行。
func (g *Game) StartGame() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusLobby {
		return ErrNotInLobby
	}
	if len(g.players) < g.cfg.MinPlayers {
		return ErrNotEnough
	}

	g.status = StatusActive
	g.round = FirstRound
	g.dealRoundLocked()
	return nil
}

// dealRoundLocked shuffles the full 116-card deck with the game's seeded rng,
// deals round+2 cards to each player one at a time starting from the round's
// opening seat, and flips one card to start the discard pile.
func (g *Game) dealRoundLocked() {
	startSeat := (g.round - 1) % len(g.players)

	for _, p := range g.players {
		p.Hand = nil
		p.Melds = nil
		p.tookFinalTurn = false
	}
	g.wentOutSeat = NoSeat
	g.finalTurn = false

	if g.cfg.DeckOverride != nil {
		g.stock.Init(g.cfg.DeckOverride)
	} else {
		g.stock.Init(card.TwoDecks())
		g.stock.Shuffle(g.rng)
	}

	handSize := HandSize(g.round)
	for i := 0; i < handSize; i++ {
		for offset := 0; offset < len(g.players); offset++ {
			p := g.players[(startSeat+offset)%len(g.players)]
			p.Hand.Add(g.stock.PopCard())
		}
	}

	g.discard = card.CardList{g.stock.PopCard()}
	g.turnIndex = startSeat
	g.phase = PhaseMustDraw
}

// currentPlayerLocked validates that userID is seated and holds the turn in
// the required phase. Every gameplay command funnels through here.
func (g *Game) currentPlayerLocked(userID int64, phase TurnPhase) (*Player, error) {
	if g.status != StatusActive {
		return nil, ErrGameNotActive
	}
	seat := g.seatOf(userID)
	if seat == NoSeat {
		return nil, ErrNotInGame
	}
	if seat != g.turnIndex {
		return nil, ErrNotYourTurn
	}
	if g.phase != phase {
		return nil, ErrWrongPhase
	}
	return g.players[seat], nil
}

// DrawFromStock appends the top stock card to the current player's hand.
// An empty stock is first replenished by shuffling the discard pile (all but
// its top card) with the next draw of the game's seeded rng stream.
func (g *Game) DrawFromStock(userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.currentPlayerLocked(userID, PhaseMustDraw)
	if err != nil {
		return err
	}

	if g.stock.Count() == 0 {
		if g.discard.Count() <= 1 {
			return ErrStockEmpty
		}
		top := g.discard.PopCard()
		g.stock = g.discard
		g.stock.Shuffle(g.rng)
		g.discard = card.CardList{top}
	}

	p.Hand.Add(g.stock.PopCard())
	g.phase = PhaseMustDiscard
	return nil
}

// DrawFromDiscard pops the discard top into the current player's hand.
func (g *Game) DrawFromDiscard(userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.currentPlayerLocked(userID, PhaseMustDraw)
	if err != nil {
		return err
	}
	if g.discard.Count() == 0 {
		return ErrDiscardEmpty
	}

	p.Hand.Add(g.discard.PopCard())
	g.phase = PhaseMustDiscard
	return nil
}

// LayMelds moves validated melds from the current player's hand to the table.
// The player must keep at least one card to discard; melding the entire hand
// goes through GoOut instead.
func (g *Game) LayMelds(userID int64, melds []Meld) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.currentPlayerLocked(userID, PhaseMustDiscard)
	if err != nil {
		return err
	}
	if len(melds) == 0 {
		return ErrInvalidMeld
	}
	for _, m := range melds {
		if !m.Valid(g.round) {
			return ErrInvalidMeld
		}
	}

	rest := p.Hand.Clone()
	for _, m := range melds {
		if !rest.RemoveAll(m.Cards) {
			return ErrCardNotInHand
		}
	}
	if rest.Count() < 1 {
		return ErrInvalidMeld
	}

	p.Hand = rest
	for _, m := range melds {
		p.Melds = append(p.Melds, NormalizeRun(m, g.round))
	}
	return nil
}

// LayOff extends any player's existing meld with cards from the current
// player's hand. Disallowed once the final-turn phase has begun. As with
// LayMelds, the player must keep at least one card to discard.
func (g *Game) LayOff(userID int64, targetSeat, meldIdx int, cards []card.Card) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.currentPlayerLocked(userID, PhaseMustDiscard)
	if err != nil {
		return err
	}
	if g.finalTurn {
		return ErrFinalTurnPhase
	}
	if targetSeat < 0 || targetSeat >= len(g.players) {
		return ErrMeldNotFound
	}
	target := g.players[targetSeat]
	if meldIdx < 0 || meldIdx >= len(target.Melds) {
		return ErrMeldNotFound
	}
	if len(cards) == 0 {
		return ErrCannotExtend
	}

	rest := p.Hand.Clone()
	if !rest.RemoveAll(cards) {
		return ErrCardNotInHand
	}
	if rest.Count() < 1 {
		return ErrCannotExtend
	}
	existing := target.Melds[meldIdx]
	if !CanExtendMeld(existing, cards, g.round) {
		return ErrCannotExtend
	}

	p.Hand = rest
	extended := Meld{
		Type:  existing.Type,
		Cards: append(append([]card.Card{}, existing.Cards...), cards...),
	}
	target.Melds[meldIdx] = NormalizeRun(extended, g.round)
	return nil
}

// Discard removes a card from the current player's hand onto the discard pile
// and advances the turn, ending the round once every other player has had
// their final turn after a go-out. Discarding the last card of the hand is
// going out: it sets the same bookkeeping as GoOut and starts the final-turn
// phase.
func (g *Game) Discard(userID int64, c card.Card) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.currentPlayerLocked(userID, PhaseMustDiscard)
	if err != nil {
		return err
	}
	if !p.Hand.Contains(c) {
		return ErrCardNotInHand
	}

	p.Hand.Remove(c)
	g.discard.Add(c)

	wentOutNow := p.Hand.Count() == 0 && g.wentOutSeat == NoSeat
	if p.Hand.Count() == 0 {
		p.HasGoneOut = true
		if g.wentOutSeat == NoSeat {
			g.wentOutSeat = p.Seat
		}
	}

	roundBefore := g.round
	g.advanceTurnLocked(p)
	if wentOutNow && g.status == StatusActive && g.round == roundBefore {
		g.finalTurn = true
	}
	return nil
}

// GoOut atomically lays all but one card as melds and discards the last one.
// playerWhoWentOut is set before the discard triggers turn advancement; the
// final-turn phase begins right after.
func (g *Game) GoOut(userID int64, melds []Meld, discard card.Card) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.currentPlayerLocked(userID, PhaseMustDiscard)
	if err != nil {
		return err
	}
	if !CanGoOut(p.Hand, melds, discard, g.round) {
		return ErrCannotGoOut
	}

	rest := p.Hand.Clone()
	for _, m := range melds {
		rest.RemoveAll(m.Cards)
		p.Melds = append(p.Melds, NormalizeRun(m, g.round))
	}
	p.Hand = rest
	p.HasGoneOut = true
	if g.wentOutSeat == NoSeat {
		g.wentOutSeat = p.Seat
	}

	roundBefore := g.round
	p.Hand.Remove(discard)
	g.discard.Add(discard)
	g.advanceTurnLocked(p)

	if g.status == StatusActive && g.round == roundBefore {
		g.finalTurn = true
	}
	return nil
}

func (g *Game) advanceTurnLocked(p *Player) {
	if g.wentOutSeat != NoSeat && p.Seat != g.wentOutSeat {
		p.tookFinalTurn = true
	}
	if g.wentOutSeat != NoSeat && g.allFinalTurnsTakenLocked() {
		g.endRoundLocked()
		return
	}
	g.turnIndex = (g.turnIndex + 1) % len(g.players)
	g.phase = PhaseMustDraw
}

func (g *Game) allFinalTurnsTakenLocked() bool {
	for _, p := range g.players {
		if p.Seat == g.wentOutSeat {
			continue
		}
		if !p.tookFinalTurn {
			return false
		}
	}
	return true
}

// endRoundLocked 结算: 其余玩家按手中剩牌加分, 然后进入下一轮或终局。
func (g *Game) endRoundLocked() {
	for _, p := range g.players {
		p.Score += HandPoints(p.Hand, g.round)
	}

	if g.round >= FinalRound {
		g.status = StatusFinished
		return
	}
	g.round++
	g.dealRoundLocked()
}

func (g *Game) seatOf(userID int64) int {
	for _, p := range g.players {
		if p.UserID == userID {
			return p.Seat
		}
	}
	return NoSeat
}

// SeatOf returns the seat of userID or NoSeat.
func (g *Game) SeatOf(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seatOf(userID)
}

// HostUserID returns the user at seat 0 (the creator).
func (g *Game) HostUserID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.players) == 0 {
		return 0
	}
	return g.players[0].UserID
}

// TotalCards counts every card across stock, discard, hands and melds. It
// must equal card.TwoDeckSize after every committed command of an active
// game.
func (g *Game) TotalCards() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := g.stock.Count() + g.discard.Count()
	for _, p := range g.players {
		total += p.Hand.Count()
		for _, m := range p.Melds {
			total += len(m.Cards)
		}
	}
	return total
}
