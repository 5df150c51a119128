package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const emailContextKey contextKey = "email"

// authMiddleware verifies the bearer ID token (Cloud Scheduler style) and
// checks the email claim against the admin allowlist. bypass-auth skips the
// whole check for local development.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if s.bypassAuth {
			next.ServeHTTP(w, r)
			return
		}

		if s.verifier == nil {
			writeJSONError(w, "authentication not configured", http.StatusUnauthorized)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		email, err := s.verifier(ctx, parts[1])
		if err != nil {
			slog.WarnContext(ctx, "failed to validate id token", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if email == "" {
			slog.WarnContext(ctx, "invalid email in id token")
			writeJSONError(w, "invalid token claims", http.StatusForbidden)
			return
		}

		if !s.isAdmin(email) {
			slog.WarnContext(ctx, "unauthorized email", slog.String("email", email))
			writeJSONError(w, "unauthorized email", http.StatusForbidden)
			return
		}

		slog.DebugContext(ctx, "authorized", slog.String("email", email))
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, emailContextKey, email)))
	})
}

// isAdmin returns true if the email is in the adminEmails list.
func (s *Server) isAdmin(email string) bool {
	for _, admin := range s.adminEmails {
		if email == admin {
			return true
		}
	}
	return false
}
