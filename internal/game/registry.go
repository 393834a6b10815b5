package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbbjarnason/fivesuitsrummy/card"
	"github.com/jbbjarnason/fivesuitsrummy/fivecrowns"
	"github.com/jbbjarnason/fivesuitsrummy/internal/codec"
	"github.com/jbbjarnason/fivesuitsrummy/internal/store"
)

// Registry owns all live rooms. Games in Lobby or Active status have a room;
// finished and deleted games do not.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	store store.Service
	seed  func() int64
}

func NewRegistry(st store.Service) *Registry {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	var seedMu sync.Mutex
	return &Registry{
		rooms: make(map[string]*Room),
		store: st,
		seed: func() int64 {
			seedMu.Lock()
			defer seedMu.Unlock()
			return src.Int63()
		},
	}
}

// Create persists a new lobby game, spins up its room and seats the creator
// at seat 0.
func (reg *Registry) Create(ctx context.Context, createdBy int64, maxPlayers int) (*Room, error) {
	if maxPlayers <= 0 {
		maxPlayers = fivecrowns.DefaultMaxPlayers
	}

	id := uuid.NewString()
	seed := reg.seed()
	g, err := fivecrowns.NewGame(id, fivecrowns.Config{
		MinPlayers: fivecrowns.DefaultMinPlayers,
		MaxPlayers: maxPlayers,
		Seed:       seed,
	})
	if err != nil {
		return nil, err
	}

	if err := reg.store.CreateGame(ctx, store.Game{
		ID:         id,
		Status:     store.StatusLobby,
		MaxPlayers: maxPlayers,
		RngSeed:    seed,
		CreatedBy:  createdBy,
	}); err != nil {
		return nil, err
	}

	room := newRoom(id, g, reg.store, 0)
	reg.mu.Lock()
	reg.rooms[id] = room
	reg.mu.Unlock()

	if err := room.Join(createdBy); err != nil {
		reg.mu.Lock()
		delete(reg.rooms, id)
		reg.mu.Unlock()
		room.Stop()
		_ = reg.store.DeleteGame(ctx, id)
		return nil, err
	}

	log.Printf("[Registry] game %s created by user %d (max=%d)", id, createdBy, maxPlayers)
	return room, nil
}

func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// Delete notifies subscribers, stops the room and removes the game and its
// log from the store.
func (reg *Registry) Delete(ctx context.Context, id string) error {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	delete(reg.rooms, id)
	reg.mu.Unlock()

	if ok {
		room.NotifyDeleted()
		room.Stop()
	}
	return reg.store.DeleteGame(ctx, id)
}

// StopAll shuts every room down, for process shutdown.
func (reg *Registry) StopAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, room := range reg.rooms {
		room.Stop()
		delete(reg.rooms, id)
	}
}

// Load rebuilds the room for every unfinished game by replaying its event
// log into a fresh engine seeded with the persisted rng seed. A game whose
// log fails to replay is skipped and logged, never silently truncated.
func (reg *Registry) Load(ctx context.Context) error {
	for _, status := range []string{store.StatusLobby, store.StatusActive} {
		games, err := reg.store.GamesByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, g := range games {
			room, err := reg.rehydrate(ctx, g)
			if err != nil {
				log.Printf("[Registry] skipping game %s: replay failed: %v", g.ID, err)
				continue
			}
			reg.mu.Lock()
			reg.rooms[g.ID] = room
			reg.mu.Unlock()
		}
	}

	reg.mu.RLock()
	count := len(reg.rooms)
	reg.mu.RUnlock()
	log.Printf("[Registry] %d live games restored", count)
	return nil
}

func (reg *Registry) rehydrate(ctx context.Context, g store.Game) (*Room, error) {
	engine, err := fivecrowns.NewGame(g.ID, fivecrowns.Config{
		MinPlayers: fivecrowns.DefaultMinPlayers,
		MaxPlayers: g.MaxPlayers,
		Seed:       g.RngSeed,
	})
	if err != nil {
		return nil, err
	}

	events, err := reg.store.Events(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			return nil, fmt.Errorf("event log gap at seq %d", ev.Seq)
		}
		if err := applyEvent(engine, ev); err != nil {
			return nil, fmt.Errorf("seq %d (%s): %w", ev.Seq, ev.Type, err)
		}
	}

	return newRoom(g.ID, engine, reg.store, int64(len(events))), nil
}

// applyEvent replays one logged event into the engine. The decode paths
// mirror Room.buildApply exactly, which is what makes replay deterministic.
func applyEvent(g *fivecrowns.Game, ev store.Event) error {
	switch ev.Type {
	case evPlayerJoined:
		_, err := g.AddPlayer(ev.ActorUserID)
		return err
	case evPlayerLeft:
		return g.RemovePlayer(ev.ActorUserID)
	case codec.CmdStartGame:
		return g.StartGame()
	case codec.CmdDraw:
		var p codec.DrawCmd
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		if p.Source == "discard" {
			return g.DrawFromDiscard(ev.ActorUserID)
		}
		return g.DrawFromStock(ev.ActorUserID)
	case codec.CmdLayMelds:
		var p codec.LayMeldsCmd
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		melds, err := codec.ToMelds(p.Melds)
		if err != nil {
			return err
		}
		return g.LayMelds(ev.ActorUserID, melds)
	case codec.CmdLayOff:
		var p codec.LayOffCmd
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		cards, err := card.ParseAll(p.Cards)
		if err != nil {
			return err
		}
		return g.LayOff(ev.ActorUserID, p.TargetSeat, p.MeldIndex, cards)
	case codec.CmdDiscard:
		var p codec.DiscardCmd
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		c, err := card.Parse(p.Card)
		if err != nil {
			return err
		}
		return g.Discard(ev.ActorUserID, c)
	case codec.CmdGoOut:
		var p codec.GoOutCmd
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		melds, err := codec.ToMelds(p.Melds)
		if err != nil {
			return err
		}
		discard, err := card.Parse(p.Discard)
		if err != nil {
			return err
		}
		return g.GoOut(ev.ActorUserID, melds, discard)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func decodePayload(data []byte, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(data, dst)
}
