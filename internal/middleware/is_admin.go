package middleware

import (
	"errors"
	"net/http"

	"cryptorafts/platform/internal/auth"
	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/services"
)

// IsAdminMiddleware lets through users whose stored profile holds the admin role
func IsAdminMiddleware(users services.UserFetcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.GetUserClaims(r.Context())
			if claims == nil {
				common.RespondError(w, http.StatusUnauthorized, constants.MsgUnauthorized)
				return
			}

			user, err := users.GetUser(r.Context(), claims.UserID())
			if err != nil {
				if errors.Is(err, repositories.ErrDocumentNotFound) {
					common.RespondError(w, http.StatusForbidden, constants.MsgForbidden)
					return
				}
				logging.Error("Admin check failed", "user_id", claims.UserID(), "error", err)
				common.RespondError(w, http.StatusInternalServerError, constants.MsgRoleFetchFailed)
				return
			}

			if !user.Profile().CanActAs(constants.RoleAdmin) {
				common.RespondError(w, http.StatusForbidden, constants.MsgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
