package middleware

import (
	"net/http"
	"time"

	"cryptorafts/platform/internal/auth"
	reqctx "cryptorafts/platform/internal/context"
	"cryptorafts/platform/internal/logging"
)

// Logging writes a debug line per request with its headers. It is only
// mounted outside production.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lw, r)

		userID := ""
		if claims := auth.GetUserClaims(r.Context()); claims != nil {
			userID = claims.UserID()
		}
		logging.WithRequest(reqctx.GetRequestID(r.Context()), userID, r.URL.Path).Debugw("Request served",
			"method", r.Method,
			"status_code", lw.statusCode,
			"duration", time.Since(start).String(),
			"user_agent", r.UserAgent(),
		)
	})
}
