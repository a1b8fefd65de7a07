// Package authz guards the token-protected HTTP surface.
package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"e2ee-relay/internal/dto"
	obsmw "e2ee-relay/internal/observability/middleware"
	"e2ee-relay/internal/service"
)

type subjectKey struct{}

func contextWithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// SubjectFrom returns the authenticated username stored by RequireBearer.
func SubjectFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey{}).(string)
	return v, ok
}

// RequireBearer verifies the Authorization header and stores the token's
// subject in the request context. A missing credential and a bad credential
// answer with distinct statuses so clients can tell "log in" from "log in
// again" apart.
func RequireBearer(tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := obsmw.RequestIDFromContext(r.Context())
			raw := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				slog.Warn("missing bearer token", "request_id", reqID)
				return
			}
			tokStr := strings.TrimSpace(raw[len("Bearer "):])

			sub, err := tokens.Verify(tokStr)
			if err != nil {
				writeAuthError(w, http.StatusForbidden, "Invalid or expired token")
				slog.Warn("bearer token rejected", "error", err, "request_id", reqID)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithSubject(r.Context(), sub)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Message: message})
}
