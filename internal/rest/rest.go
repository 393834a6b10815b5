// Package rest is the HTTP facade: account endpoints, game lifecycle,
// friendships, notifications and user lookup. Realtime gameplay never goes
// through here; sockets talk to the hub, REST only mutates lobby-side state
// and mints tokens.
package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/jbbjarnason/fivesuitsrummy/internal/auth"
	"github.com/jbbjarnason/fivesuitsrummy/internal/codec"
	"github.com/jbbjarnason/fivesuitsrummy/internal/game"
	"github.com/jbbjarnason/fivesuitsrummy/internal/mail"
	"github.com/jbbjarnason/fivesuitsrummy/internal/store"
	"github.com/jbbjarnason/fivesuitsrummy/internal/token"
)

// Pusher delivers an already-encoded frame to a user's live sockets.
// Satisfied by *hub.Hub.
type Pusher interface {
	SendToUser(userID int64, data []byte) bool
}

type Server struct {
	auth     auth.Service
	store    store.Service
	registry *game.Registry
	signer   *token.Signer
	mailer   mail.Mailer
	pusher   Pusher

	publicURL string // base URL used in account emails
	mediaURL  string // media server URL handed out with media tokens
}

func NewServer(a auth.Service, st store.Service, reg *game.Registry, signer *token.Signer,
	mailer mail.Mailer, pusher Pusher, publicURL, mediaURL string) *Server {
	return &Server{
		auth:      a,
		store:     st,
		registry:  reg,
		signer:    signer,
		mailer:    mailer,
		pusher:    pusher,
		publicURL: strings.TrimRight(publicURL, "/"),
		mediaURL:  mediaURL,
	}
}

// Router builds the full route table.
func (s *Server) Router() *httprouter.Router {
	router := httprouter.New()
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, rec any) {
		log.Printf("[REST] panic on %s %s: %v", r.Method, r.URL.Path, rec)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}

	router.POST("/auth/signup", s.handleSignup)
	router.POST("/auth/login", s.handleLogin)
	router.GET("/auth/verify", s.handleVerify)
	router.POST("/auth/refresh", s.handleRefresh)
	router.POST("/auth/password-reset-request", s.handlePasswordResetRequest)
	router.POST("/auth/password-reset", s.handlePasswordReset)

	router.GET("/games", s.authed(s.handleListGames))
	router.POST("/games", s.authed(s.handleCreateGame))
	router.GET("/games/:id", s.authed(s.handleGetGame))
	router.DELETE("/games/:id", s.authed(s.handleDeleteGame))
	router.POST("/games/:id/invite", s.authed(s.handleInvite))
	router.POST("/games/:id/leave", s.authed(s.handleLeave))
	router.POST("/games/:id/nudge", s.authed(s.handleLobbyNudge))
	router.POST("/games/:id/nudge-player", s.authed(s.handleTurnNudge))
	router.POST("/games/:id/livekit-token", s.authed(s.handleMediaToken))

	router.GET("/friends", s.authed(s.handleListFriends))
	router.POST("/friends", s.authed(s.handleFriendAction))

	router.GET("/notifications", s.authed(s.handleListNotifications))
	router.POST("/notifications/:id/read", s.authed(s.handleReadNotification))
	router.DELETE("/notifications/:id", s.authed(s.handleDeleteNotification))

	router.GET("/users/me", s.authed(s.handleMe))
	router.GET("/users/me/stats", s.authed(s.handleMyStats))
	router.GET("/users/search", s.authed(s.handleSearchUsers))

	return router
}

type authedHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID int64)

// authed resolves the Bearer session token and hands the user id to h.
func (s *Server) authed(h authedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		header := r.Header.Get("Authorization")
		tok, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tok == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		userID, err := s.signer.VerifySession(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid session token")
			return
		}
		h(w, r, ps, userID)
	}
}

// notify persists a notification and pushes it to the target's live sockets.
func (s *Server) notify(r *http.Request, userID int64, kind string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[REST] marshal %s notification: %v", kind, err)
		return
	}
	id, err := s.store.AddNotification(r.Context(), store.Notification{
		UserID:  userID,
		Kind:    kind,
		Payload: body,
	})
	if err != nil {
		log.Printf("[REST] persist %s notification for user %d: %v", kind, userID, err)
		return
	}

	if s.pusher == nil {
		return
	}
	frame, err := codec.EncodeEvent(codec.EvtNotification, codec.NotificationEvt{
		ID:      id,
		Kind:    kind,
		Payload: json.RawMessage(body),
	})
	if err == nil {
		s.pusher.SendToUser(userID, frame)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[REST] write response: %v", err)
	}
}

// readJSON decodes the request body into dst, rejecting unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed", "invalid JSON body")
		return false
	}
	return true
}

// authError maps auth.Service failures onto the wire taxonomy.
func authError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidPassword):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "wrong email or password")
	case errors.Is(err, auth.ErrEmailNotVerified):
		writeError(w, http.StatusForbidden, "email_not_verified", "verify your email first")
	case errors.Is(err, auth.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "token_not_found", "unknown or expired token")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "no such user")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
