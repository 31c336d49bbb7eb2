package middleware

import (
	"net/http"
	"strings"

	"cryptorafts/platform/internal/auth"
	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/logging"
)

// AuthMiddleware requires a valid bearer token. Streaming endpoints may pass
// the token as the access_token query parameter since browsers cannot set
// headers on an EventSource.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				common.RespondError(w, http.StatusUnauthorized, constants.MsgUnauthorized)
				return
			}

			claims, err := auth.ParseToken(secret, raw)
			if err != nil {
				logging.Debug("Rejected access token", "path", r.URL.Path, "error", err)
				common.RespondError(w, http.StatusUnauthorized, constants.MsgUnauthorized)
				return
			}

			ctx := auth.SetUserClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
