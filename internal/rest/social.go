package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/jbbjarnason/fivesuitsrummy/internal/store"
)

type friendBody struct {
	UserID    int64  `json:"userId"`
	FriendID  int64  `json:"friendId"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	rows, err := s.store.FriendsOf(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	bodies := make([]friendBody, 0, len(rows))
	for _, f := range rows {
		bodies = append(bodies, friendBody{
			UserID:    f.UserID,
			FriendID:  f.FriendID,
			Status:    f.Status,
			CreatedAt: f.CreatedAtMs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": bodies})
}

// handleFriendAction covers request, accept and block in one endpoint.
func (s *Server) handleFriendAction(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	var req struct {
		UserID int64  `json:"userId"`
		Action string `json:"action"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.UserID == userID {
		writeError(w, http.StatusBadRequest, "validation", "cannot befriend yourself")
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

	switch req.Action {
	case "request":
		if store.Blocked(rows) {
			writeError(w, http.StatusForbidden, "blocked", "cannot befriend this user")
			return
		}
		if store.Accepted(rows) {
			writeError(w, http.StatusConflict, "already_friends", "already friends")
			return
		}
		if err := s.store.RequestFriend(r.Context(), userID, req.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		s.notify(r, req.UserID, "friendRequest", map[string]any{"fromUserId": userID})

	case "accept":
		// The pending row points from the requester to us.
		if !hasPendingFrom(rows, req.UserID, userID) {
			writeError(w, http.StatusNotFound, "request_not_found", "no pending request from this user")
			return
		}
		if err := s.store.AcceptFriend(r.Context(), req.UserID, userID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		s.notify(r, req.UserID, "friendAccepted", map[string]any{"fromUserId": userID})

	case "block":
		if err := s.store.BlockFriend(r.Context(), userID, req.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		s.notify(r, req.UserID, "friendBlocked", map[string]any{"fromUserId": userID})

	default:
		writeError(w, http.StatusBadRequest, "validation", "action must be request, accept or block")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func hasPendingFrom(rows []store.Friendship, from, to int64) bool {
	for _, f := range rows {
		if f.UserID == from && f.FriendID == to && f.Status == store.FriendPending {
			return true
		}
	}
	return false
}

type notificationBody struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt int64           `json:"createdAt"`
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	list, err := s.store.NotificationsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	bodies := make([]notificationBody, 0, len(list))
	for _, n := range list {
		bodies = append(bodies, notificationBody{
			ID:        n.ID,
			Kind:      n.Kind,
			Payload:   json.RawMessage(n.Payload),
			Read:      n.Read,
			CreatedAt: n.CreatedAtMs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": bodies})
}

func (s *Server) handleReadNotification(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid notification id")
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), userID, id); err != nil {
		notificationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid notification id")
		return
	}
	if err := s.store.DeleteNotification(r.Context(), userID, id); err != nil {
		notificationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func notificationError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotificationNotFound) {
		writeError(w, http.StatusNotFound, "notification_not_found", "no such notification")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	user, err := s.auth.UserByID(r.Context(), userID)
	if err != nil {
		authError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserBody(user)})
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	stats, err := s.store.UserStats(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gamesPlayed": stats.GamesPlayed,
		"gamesWon":    stats.GamesWon,
		"totalPoints": stats.TotalPoints,
	})
}

const searchLimit = 20

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID int64) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "validation", "missing query")
		return
	}
	users, err := s.auth.SearchUsers(r.Context(), q, searchLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	bodies := make([]userBody, 0, len(users))
	for _, u := range users {
		if u.ID == userID {
			continue
		}
		bodies = append(bodies, toUserBody(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": bodies})
}
