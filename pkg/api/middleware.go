package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/msslab/testmgr/pkg/api/store"
)

type contextKey string

const userContextKey contextKey = "user"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAuth validates the Bearer access token and injects the user
// into the request context. Unapproved accounts are rejected even with
// a valid token.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		claims, err := parseToken(s.cfg.Auth.JWTSecret, authHeader[7:])
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid or expired token"})

			return
		}

		user, err := s.store.GetUser(r.Context(), claims.Sub)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"user not found"})

			return
		}

		if !user.IsApproved {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"account pending approval"})

			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin checks that the authenticated user is an administrator.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if user == nil || !user.IsAdmin {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"insufficient permissions"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateKind rejects requests whose {kind} URL parameter does not
// name a supported run family.
func (s *server) validateKind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !store.ValidKind(chi.URLParam(r, "kind")) {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"unknown run kind"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// userFromContext extracts the authenticated user from the request context.
func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey).(*store.User)

	return user
}
