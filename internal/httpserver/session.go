package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// SessionCookie carries the signed session token for browser clients.
const SessionCookie = "session"

// DevUserHeader names the user when auth is disabled.
const DevUserHeader = "X-User-ID"

type sessionContextKey struct{}

var (
	errMissingSession  = errors.New("missing session")
	errAuthUnavailable = errors.New("session auth unavailable")
)

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.authenticateRequest(r)
		if err != nil {
			s.debugf("unauthenticated %s %s: %v", r.Method, r.URL.Path, err)
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticateRequest(r *http.Request) (string, error) {
	if s.authDisabled {
		if id := strings.TrimSpace(r.Header.Get(DevUserHeader)); id != "" {
			return id, nil
		}
		return "", errMissingSession
	}
	if s.auth == nil {
		return "", errAuthUnavailable
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			return "", errMissingSession
		}
		token = cookie.Value
	}
	return s.auth.ValidateToken(token)
}

// UserIDFromContext returns the authenticated user, or "" outside the session middleware.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionContextKey{}).(string)
	return id
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
