package server

import (
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/model"
)

const sessionCookieName = "admin_session"

type passwordPayload struct {
	Password string `json:"password"`
}

// handlePasswordStatus reports whether the admin password has been set.
func (s *Server) handlePasswordStatus(w http.ResponseWriter, r *http.Request) {
	set, err := s.auth.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	msg := "password not set"
	if set {
		msg = "password set"
	}
	writeJSON(w, map[string]any{"hasPassword": set, "message": msg})
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var payload passwordPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, errBadRequest, http.StatusBadRequest)
		return
	}
	if err := s.auth.SetPassword(r.Context(), payload.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"message": "password set"})
}

// handleVerifyPassword checks the password and opens a session carried in
// the admin_session cookie. Attempts are throttled per client address.
func (s *Server) handleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.verifyLimiter.Allow(clientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		s.writeError(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	var payload passwordPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, errBadRequest, http.StatusBadRequest)
		return
	}
	session, err := s.auth.VerifyPassword(r.Context(), payload.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.setSessionCookie(w, session)
	writeJSON(w, map[string]any{
		"success":    true,
		"message":    "password verified",
		"expires_at": session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, map[string]bool{"success": true})
}

// handleSessionCheck answers HEAD with 200 for a live session and 401
// otherwise.
func (s *Server) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	ok, err := s.auth.ValidateSession(r.Context(), sessionToken(r))
	if err != nil {
		s.log.Error("validate session failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := s.auth.ValidateSession(r.Context(), sessionToken(r))
	if err != nil {
		s.log.Error("validate session failed", zap.Error(err))
		ok = false
	}
	noCache(w)
	writeJSON(w, map[string]bool{"authenticated": ok})
}

// requireAdmin guards mutating endpoints when ADMIN_API_AUTH is on.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.AdminAPIAuth {
		return next
	}
	return s.requireSession(next)
}

func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.auth.ValidateSession(r.Context(), sessionToken(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, session model.AdminSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(s.auth.SessionDuration().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
