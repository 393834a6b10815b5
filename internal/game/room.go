// Package game hosts the per-game actors. A Room owns one fivecrowns.Game,
// drains commands from a single queue, persists every accepted command to the
// event log before broadcasting, and fans out per-viewer projections to its
// subscribed sockets. The Registry owns all live rooms and rebuilds them from
// the event log on boot.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jbbjarnason/fivesuitsrummy/card"
	"github.com/jbbjarnason/fivesuitsrummy/fivecrowns"
	"github.com/jbbjarnason/fivesuitsrummy/internal/codec"
	"github.com/jbbjarnason/fivesuitsrummy/internal/store"
)

// Sink is one delivery target for room output, usually a websocket
// connection. Send must never block.
type Sink interface {
	UserID() int64
	Send(data []byte)
}

// Event types persisted to the log. Gameplay commands reuse their wire names;
// membership changes get their own types since they arrive over REST.
const (
	evPlayerJoined = "player.joined"
	evPlayerLeft   = "player.left"
)

const (
	persistAttempts = 3
	persistBackoff  = 100 * time.Millisecond
)

var ErrRoomClosed = errors.New("room closed")

// ErrDegraded is returned while the room is refusing commands after a
// persistence failure.
var ErrDegraded = errors.New("room degraded, retry later")

type command struct {
	typ       string
	userID    int64
	clientSeq int64
	payload   any
	reply     Sink // issuing socket, nil for REST-originated commands
	response  chan error
}

// Room is the single-writer actor for one game.
type Room struct {
	ID string

	mu       sync.RWMutex
	game     *fivecrowns.Game
	store    store.Service
	subs     map[Sink]struct{}
	seq      int64 // next event seq
	degraded bool
	closed   bool
	stopOnce sync.Once

	cmds chan command
	done chan struct{}
}

func newRoom(id string, g *fivecrowns.Game, st store.Service, nextSeq int64) *Room {
	r := &Room{
		ID:    id,
		game:  g,
		store: st,
		subs:  make(map[Sink]struct{}),
		seq:   nextSeq,
		cmds:  make(chan command, 256),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Room) run() {
	for {
		select {
		case cmd := <-r.cmds:
			r.dispatch(cmd)
		case <-r.done:
			log.Printf("[Room %s] actor stopped", r.ID)
			return
		}
	}
}

// dispatch runs one command with panic isolation so a bug in one game cannot
// take down the process or the other rooms.
func (r *Room) dispatch(cmd command) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Room %s] panic handling %s: %v", r.ID, cmd.typ, rec)
			if cmd.response != nil {
				cmd.response <- fivecrowns.ErrInvalidState("internal error")
			}
		}
	}()

	err := r.handleCommand(cmd)
	if cmd.response != nil {
		cmd.response <- err
	}
}

func (r *Room) submit(cmd command) error {
	cmd.response = make(chan error, 1)

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRoomClosed
	}

	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrRoomClosed
	}
	select {
	case err := <-cmd.response:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// HandleCommand runs one gameplay command from a socket. Rule errors are
// both returned and sent to the issuing sink as evt.error; accepted commands
// are persisted and broadcast before this returns.
func (r *Room) HandleCommand(typ string, userID, clientSeq int64, payload any, reply Sink) error {
	return r.submit(command{
		typ:       typ,
		userID:    userID,
		clientSeq: clientSeq,
		payload:   payload,
		reply:     reply,
	})
}

// Join seats a user (lobby only) and records the membership event.
func (r *Room) Join(userID int64) error {
	return r.submit(command{typ: evPlayerJoined, userID: userID})
}

// Leave unseats a user (lobby only) and records the membership event.
func (r *Room) Leave(userID int64) error {
	return r.submit(command{typ: evPlayerLeft, userID: userID})
}

// Start launches the game, host only.
func (r *Room) Start(userID int64) error {
	return r.submit(command{typ: codec.CmdStartGame, userID: userID})
}

func (r *Room) handleCommand(cmd command) error {
	r.mu.RLock()
	degraded := r.degraded
	r.mu.RUnlock()
	if degraded {
		r.sendError(cmd, "server_retry", "state not persisted, retry later")
		return ErrDegraded
	}

	apply, payload, err := r.buildApply(cmd)
	if err == nil {
		err = apply()
	}
	if err != nil {
		r.sendError(cmd, errorCode(err), err.Error())
		return err
	}

	if err := r.persist(cmd.typ, cmd.userID, payload); err != nil {
		r.mu.Lock()
		r.degraded = true
		r.mu.Unlock()
		log.Printf("[Room %s] persistence failed, room degraded: %v", r.ID, err)
		r.sendError(cmd, "server_retry", "state not persisted, retry later")
		return ErrDegraded
	}

	r.syncMembership(cmd)
	r.finishIfOver()
	r.broadcastState()
	return nil
}

// buildApply validates the payload and returns the engine call to run plus
// the JSON document to persist. Validation errors surface before any state
// or log mutation.
func (r *Room) buildApply(cmd command) (func() error, []byte, error) {
	g := r.game
	switch cmd.typ {
	case evPlayerJoined:
		return func() error {
			_, err := g.AddPlayer(cmd.userID)
			return err
		}, nil, nil

	case evPlayerLeft:
		return func() error { return g.RemovePlayer(cmd.userID) }, nil, nil

	case codec.CmdStartGame:
		return func() error {
			if g.HostUserID() != cmd.userID {
				return fivecrowns.ErrNotInLobby
			}
			return g.StartGame()
		}, nil, nil

	case codec.CmdDraw:
		p, ok := cmd.payload.(*codec.DrawCmd)
		if !ok {
			return nil, nil, fivecrowns.ErrInvalidState("missing draw payload")
		}
		var apply func() error
		switch p.Source {
		case "stock":
			apply = func() error { return g.DrawFromStock(cmd.userID) }
		case "discard":
			apply = func() error { return g.DrawFromDiscard(cmd.userID) }
		default:
			return nil, nil, fivecrowns.ErrInvalidState("unknown draw source")
		}
		return apply, mustJSON(p), nil

	case codec.CmdLayMelds:
		p, ok := cmd.payload.(*codec.LayMeldsCmd)
		if !ok {
			return nil, nil, fivecrowns.ErrInvalidState("missing layMelds payload")
		}
		melds, err := codec.ToMelds(p.Melds)
		if err != nil {
			return nil, nil, fivecrowns.ErrInvalidMeld
		}
		return func() error { return g.LayMelds(cmd.userID, melds) }, mustJSON(p), nil

	case codec.CmdLayOff:
		p, ok := cmd.payload.(*codec.LayOffCmd)
		if !ok {
			return nil, nil, fivecrowns.ErrInvalidState("missing layOff payload")
		}
		cards, err := card.ParseAll(p.Cards)
		if err != nil {
			return nil, nil, fivecrowns.ErrCardNotInHand
		}
		return func() error {
			return g.LayOff(cmd.userID, p.TargetSeat, p.MeldIndex, cards)
		}, mustJSON(p), nil

	case codec.CmdDiscard:
		p, ok := cmd.payload.(*codec.DiscardCmd)
		if !ok {
			return nil, nil, fivecrowns.ErrInvalidState("missing discard payload")
		}
		c, err := card.Parse(p.Card)
		if err != nil {
			return nil, nil, fivecrowns.ErrCardNotInHand
		}
		return func() error { return g.Discard(cmd.userID, c) }, mustJSON(p), nil

	case codec.CmdGoOut:
		p, ok := cmd.payload.(*codec.GoOutCmd)
		if !ok {
			return nil, nil, fivecrowns.ErrInvalidState("missing goOut payload")
		}
		melds, err := codec.ToMelds(p.Melds)
		if err != nil {
			return nil, nil, fivecrowns.ErrInvalidMeld
		}
		discard, err := card.Parse(p.Discard)
		if err != nil {
			return nil, nil, fivecrowns.ErrCardNotInHand
		}
		return func() error { return g.GoOut(cmd.userID, melds, discard) }, mustJSON(p), nil

	default:
		return nil, nil, fivecrowns.ErrInvalidState("unknown command " + cmd.typ)
	}
}

// persist appends the event with bounded retry. The seq only advances on
// success, keeping the log gap-free.
func (r *Room) persist(typ string, actor int64, payload []byte) error {
	if payload == nil {
		payload = []byte(`{}`)
	}
	ev := store.Event{
		GameID:      r.ID,
		Seq:         r.seq,
		Type:        typ,
		ActorUserID: actor,
		Payload:     payload,
	}

	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(persistBackoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = r.store.AppendEvent(ctx, ev)
		cancel()
		if err == nil {
			r.seq++
			return nil
		}
	}
	return err
}

// syncMembership mirrors membership and status changes into the store's
// queryable tables. These are projections of the event log; failures here are
// logged but do not reject the command.
func (r *Room) syncMembership(cmd command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cmd.typ {
	case evPlayerJoined:
		seat := r.game.SeatOf(cmd.userID)
		if err := r.store.AddMember(ctx, r.ID, cmd.userID, seat); err != nil {
			log.Printf("[Room %s] AddMember failed: %v", r.ID, err)
		}
	case evPlayerLeft:
		if err := r.store.RemoveMember(ctx, r.ID, cmd.userID); err != nil {
			log.Printf("[Room %s] RemoveMember failed: %v", r.ID, err)
		}
	case codec.CmdStartGame:
		if err := r.store.SetGameStatus(ctx, r.ID, store.StatusActive); err != nil {
			log.Printf("[Room %s] SetGameStatus failed: %v", r.ID, err)
		}
	}
}

// finishIfOver records the final standings once the eleventh round settles.
func (r *Room) finishIfOver() {
	snap := r.game.Snapshot()
	if snap.Status != fivecrowns.StatusFinished {
		return
	}

	winnerSeat := r.game.Winner()
	var winnerUserID int64
	points := make(map[int64]int, len(snap.Players))
	for _, p := range snap.Players {
		points[p.UserID] = p.Score
		if p.Seat == winnerSeat {
			winnerUserID = p.UserID
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.FinishGame(ctx, r.ID, winnerUserID, points); err != nil {
		log.Printf("[Room %s] FinishGame failed: %v", r.ID, err)
		return
	}
	log.Printf("[Room %s] finished, winner seat=%d user=%d", r.ID, winnerSeat, winnerUserID)
}

// Subscribe attaches a sink and immediately sends it the current state.
func (r *Room) Subscribe(s Sink) {
	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()
	r.sendState(s)
}

func (r *Room) Unsubscribe(s Sink) {
	r.mu.Lock()
	delete(r.subs, s)
	r.mu.Unlock()
}

// IsMember reports whether userID holds a seat.
func (r *Room) IsMember(userID int64) bool {
	return r.game.SeatOf(userID) != fivecrowns.NoSeat
}

// HostUserID is the creator's id (seat 0).
func (r *Room) HostUserID() int64 { return r.game.HostUserID() }

// Snapshot exposes full engine state, REST and tests use it.
func (r *Room) Snapshot() fivecrowns.Snapshot { return r.game.Snapshot() }

// Winner returns the winning seat, NoSeat until finished.
func (r *Room) Winner() int { return r.game.Winner() }

func (r *Room) broadcastState() {
	snap := r.game.Snapshot()
	winner := r.game.Winner()

	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.subs))
	for s := range r.subs {
		sinks = append(sinks, s)
	}
	r.mu.RUnlock()

	for _, s := range sinks {
		data, err := codec.EncodeEvent(codec.EvtState, codec.ProjectState(snap, s.UserID(), winner))
		if err != nil {
			log.Printf("[Room %s] encode state failed: %v", r.ID, err)
			continue
		}
		s.Send(data)
	}
}

func (r *Room) sendState(s Sink) {
	data, err := codec.EncodeEvent(codec.EvtState,
		codec.ProjectState(r.game.Snapshot(), s.UserID(), r.game.Winner()))
	if err != nil {
		log.Printf("[Room %s] encode state failed: %v", r.ID, err)
		return
	}
	s.Send(data)
}

func (r *Room) sendError(cmd command, code, msg string) {
	if cmd.reply == nil {
		return
	}
	data, err := codec.EncodeEvent(codec.EvtError, codec.ErrorEvt{
		Code:      code,
		Message:   msg,
		ClientSeq: cmd.clientSeq,
	})
	if err != nil {
		return
	}
	cmd.reply.Send(data)
}

// NotifyDeleted pushes evt.gameDeleted to every subscriber; the registry
// calls it right before tearing the room down.
func (r *Room) NotifyDeleted() {
	data, err := codec.EncodeEvent(codec.EvtGameDeleted, codec.GameDeletedEvt{GameID: r.ID})
	if err != nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for s := range r.subs {
		s.Send(data)
	}
}

// Stop shuts the actor down.
func (r *Room) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.done) })
}

func errorCode(err error) string {
	var rule fivecrowns.RuleError
	if errors.As(err, &rule) {
		return string(rule)
	}
	switch {
	case errors.Is(err, fivecrowns.ErrGameFull):
		return "game_full"
	case errors.Is(err, fivecrowns.ErrAlreadyInGame):
		return "already_in_game"
	case errors.Is(err, fivecrowns.ErrNotInLobby):
		return "not_in_lobby"
	case errors.Is(err, fivecrowns.ErrNotEnough):
		return "not_enough_players"
	default:
		return "invalid_state"
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
