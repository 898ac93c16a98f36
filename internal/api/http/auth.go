package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type authContextKey string

const reviewerKey authContextKey = "reviewer"

func withReviewer(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reviewerKey, id)
}

func reviewerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(reviewerKey).(string); ok {
		return v
	}
	return ""
}

// requireReviewer identifies the caller. With API keys configured the key
// decides who is acting; otherwise the X-Actor header is trusted.
func (s *Server) requireReviewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reviewer string
		if s.authSvc != nil && s.authSvc.Enabled() {
			id, err := s.authSvc.Authenticate(extractToken(r))
			if err != nil {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
				return
			}
			reviewer = id
		} else {
			reviewer = strings.TrimSpace(r.Header.Get("X-Actor"))
			if reviewer == "" {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-Actor header required")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(withReviewer(r.Context(), reviewer)))
	})
}

func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}
