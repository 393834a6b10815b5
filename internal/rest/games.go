package rest

import (
	"errors"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/jbbjarnason/fivesuitsrummy/fivecrowns"
	"github.com/jbbjarnason/fivesuitsrummy/internal/codec"
	"github.com/jbbjarnason/fivesuitsrummy/internal/game"
	"github.com/jbbjarnason/fivesuitsrummy/internal/store"
	"github.com/jbbjarnason/fivesuitsrummy/internal/token"
)

type gameBody struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	MaxPlayers   int          `json:"maxPlayers"`
	CreatedBy    int64        `json:"createdBy"`
	WinnerUserID int64        `json:"winnerUserId,omitempty"`
	CreatedAt    int64        `json:"createdAt"`
	Members      []memberBody `json:"members"`
}

type memberBody struct {
	UserID int64 `json:"userId"`
	Seat   int   `json:"seat"`
	Points int   `json:"points"`
}

func (s *Server) gameBody(r *http.Request, g store.Game) gameBody {
	body := gameBody{
		ID:           g.ID,
		Status:       g.Status,
		MaxPlayers:   g.MaxPlayers,
		CreatedBy:    g.CreatedBy,
		WinnerUserID: g.WinnerUserID,
		CreatedAt:    g.CreatedAtMs,
		Members:      []memberBody{},
	}
	members, err := s.store.Members(r.Context(), g.ID)
	if err != nil {
		log.Printf("[REST] members of %s: %v", g.ID, err)
		return body
	}
	for _, m := range members {
		body.Members = append(body.Members, memberBody{UserID: m.UserID, Seat: m.Seat, Points: m.Points})
	}
	return body
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	games, err := s.store.GamesForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	bodies := make([]gameBody, 0, len(games))
	for _, g := range games {
		bodies = append(bodies, s.gameBody(r, g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": bodies})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	var req struct {
		MaxPlayers int `json:"maxPlayers"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.MaxPlayers != 0 &&
		(req.MaxPlayers < fivecrowns.DefaultMinPlayers || req.MaxPlayers > fivecrowns.DefaultMaxPlayers) {
		writeError(w, http.StatusBadRequest, "validation", "maxPlayers must be between 2 and 7")
		return
	}

	room, err := s.registry.Create(r.Context(), userID, req.MaxPlayers)
	if err != nil {
		var invalid fivecrowns.InvalidStateError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, "validation", invalid.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	g, err := s.store.GameByID(r.Context(), room.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"game": s.gameBody(r, g)})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	g, err := s.store.GameByID(r.Context(), ps.ByName("id"))
	if err != nil {
		gameError(w, err)
		return
	}
	if !s.isMember(r, g.ID, userID) {
		writeError(w, http.StatusForbidden, "not_in_game", "you are not in this game")
		return
	}

	resp := map[string]any{"game": s.gameBody(r, g)}
	if room, ok := s.registry.Get(g.ID); ok {
		resp["state"] = codec.ProjectState(room.Snapshot(), userID, room.Winner())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteGame tears a game down, host only. Every other member gets a
// gameDeleted notification; live subscribers additionally see evt.gameDeleted
// from the room itself.
func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	g, err := s.store.GameByID(r.Context(), ps.ByName("id"))
	if err != nil {
		gameError(w, err)
		return
	}
	if g.CreatedBy != userID {
		writeError(w, http.StatusForbidden, "not_host", "only the host may delete the game")
		return
	}
	if g.Status == store.StatusActive {
		writeError(w, http.StatusConflict, "not_in_lobby", "active games cannot be deleted")
		return
	}

	members, err := s.store.Members(r.Context(), g.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	if err := s.registry.Delete(r.Context(), g.ID); err != nil {
		gameError(w, err)
		return
	}
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		s.notify(r, m.UserID, "gameDeleted", map[string]any{"gameId": g.ID})
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInvite seats a friend into a lobby. The friendship must hold an
// accepted row in either direction, and a block in either direction wins.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	var req struct {
		UserID int64 `json:"userId"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	room, ok := s.registry.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "game_not_found", "no such game")
		return
	}
	if !room.IsMember(userID) {
		writeError(w, http.StatusForbidden, "not_in_game", "you are not in this game")
		return
	}
	if _, err := s.auth.UserByID(r.Context(), req.UserID); err != nil {
		authError(w, err)
		return
	}

	rows, err := s.store.FriendshipsBetween(r.Context(), userID, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if store.Blocked(rows) {
		writeError(w, http.StatusForbidden, "blocked", "cannot invite this user")
		return
	}
	if !store.Accepted(rows) {
		writeError(w, http.StatusForbidden, "not_friends", "you can only invite friends")
		return
	}

	if err := room.Join(req.UserID); err != nil {
		roomError(w, err)
		return
	}

	s.notify(r, req.UserID, "gameInvitation", map[string]any{
		"gameId":     room.ID,
		"fromUserId": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	room, ok := s.registry.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "game_not_found", "no such game")
		return
	}
	if err := room.Leave(userID); err != nil {
		roomError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLobbyNudge lets a waiting guest poke the host to start the game.
func (s *Server) handleLobbyNudge(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	room, ok := s.registry.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "game_not_found", "no such game")
		return
	}
	if !room.IsMember(userID) {
		writeError(w, http.StatusForbidden, "not_in_game", "you are not in this game")
		return
	}
	host := room.HostUserID()
	if host == userID {
		writeError(w, http.StatusBadRequest, "validation", "the host cannot nudge themselves")
		return
	}
	if room.Snapshot().Status != fivecrowns.StatusLobby {
		writeError(w, http.StatusConflict, "not_in_lobby", "game already started")
		return
	}

	s.notify(r, host, "gameNudge", map[string]any{
		"gameId":     room.ID,
		"fromUserId": userID,
		"kind":       "lobby",
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleTurnNudge pokes whoever currently holds the turn.
func (s *Server) handleTurnNudge(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	room, ok := s.registry.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "game_not_found", "no such game")
		return
	}
	if !room.IsMember(userID) {
		writeError(w, http.StatusForbidden, "not_in_game", "you are not in this game")
		return
	}
	snap := room.Snapshot()
	if snap.Status != fivecrowns.StatusActive {
		writeError(w, http.StatusConflict, "game_not_active", "game is not running")
		return
	}
	target := snap.Players[snap.TurnIndex].UserID
	if target == userID {
		writeError(w, http.StatusBadRequest, "validation", "it is your own turn")
		return
	}

	s.notify(r, target, "gameNudge", map[string]any{
		"gameId":     room.ID,
		"fromUserId": userID,
		"kind":       "turn",
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMediaToken mints a short-lived token for the game's video room.
func (s *Server) handleMediaToken(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	room, ok := s.registry.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "game_not_found", "no such game")
		return
	}
	if !room.IsMember(userID) {
		writeError(w, http.StatusForbidden, "not_in_game", "you are not in this game")
		return
	}

	displayName := ""
	if user, err := s.auth.UserByID(r.Context(), userID); err == nil {
		displayName = user.Username
	}
	tok, err := s.signer.IssueMedia(room.ID, userID, displayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "media signing not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": tok,
		"url":   s.mediaURL,
		"room":  token.MediaRoom(room.ID),
	})
}

func (s *Server) isMember(r *http.Request, gameID string, userID int64) bool {
	if room, ok := s.registry.Get(gameID); ok {
		return room.IsMember(userID)
	}
	members, err := s.store.Members(r.Context(), gameID)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func gameError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrGameNotFound) {
		writeError(w, http.StatusNotFound, "game_not_found", "no such game")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

// roomError maps room command failures onto HTTP statuses.
func roomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fivecrowns.ErrGameFull):
		writeError(w, http.StatusConflict, "game_full", "game is full")
	case errors.Is(err, fivecrowns.ErrAlreadyInGame):
		writeError(w, http.StatusConflict, "already_in_game", "already seated")
	case errors.Is(err, fivecrowns.ErrNotInLobby):
		writeError(w, http.StatusConflict, "not_in_lobby", "game already started")
	case errors.Is(err, game.ErrRoomClosed):
		writeError(w, http.StatusNotFound, "game_not_found", "no such game")
	case errors.Is(err, game.ErrDegraded):
		writeError(w, http.StatusServiceUnavailable, "server_retry", "try again shortly")
	default:
		var rule fivecrowns.RuleError
		if errors.As(err, &rule) {
			writeError(w, http.StatusConflict, string(rule), rule.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
	}
}
