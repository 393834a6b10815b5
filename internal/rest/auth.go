package rest

import (
	"fmt"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/jbbjarnason/fivesuitsrummy/internal/auth"
)

type userBody struct {
	ID            int64  `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	EmailVerified bool   `json:"emailVerified"`
	CreatedAt     int64  `json:"createdAt"`
}

func toUserBody(u auth.User) userBody {
	return userBody{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAtMs,
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	user, verifyToken, err := s.auth.Signup(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		authError(w, err)
		return
	}

	link := fmt.Sprintf("%s/auth/verify?token=%s", s.publicURL, verifyToken)
	body := fmt.Sprintf("Hi %s,\n\nConfirm your account by opening:\n\n%s\n", user.Username, link)
	if err := s.mailer.Send(user.Email, "Verify your account", body); err != nil {
		log.Printf("[REST] verification mail to %s failed: %v", user.Email, err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": toUserBody(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		authError(w, err)
		return
	}
	tok, err := s.signer.IssueSession(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "user": toUserBody(user)})
}

// handleVerify consumes the token from the mailed link.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		writeError(w, http.StatusBadRequest, "validation", "missing token")
		return
	}
	user, err := s.auth.VerifyEmail(r.Context(), tok)
	if err != nil {
		authError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserBody(user)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Token string `json:"token"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	fresh, err := s.signer.Refresh(req.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid session token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": fresh})
}

// handlePasswordResetRequest always answers 204 so the endpoint cannot be
// used to probe which emails exist.
func (s *Server) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Email string `json:"email"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	user, resetToken, err := s.auth.RequestPasswordReset(r.Context(), req.Email)
	if err == nil {
		link := fmt.Sprintf("%s/reset-password?token=%s", s.publicURL, resetToken)
		body := fmt.Sprintf("Hi %s,\n\nReset your password within one hour:\n\n%s\n", user.Username, link)
		if err := s.mailer.Send(user.Email, "Password reset", body); err != nil {
			log.Printf("[REST] reset mail to %s failed: %v", user.Email, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		authError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
