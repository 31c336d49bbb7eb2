package middleware

import (
	"net/http"

	"cryptorafts/platform/internal/common"
)

// CookieJarMiddleware binds the request's cookies to the context so the role
// cache cookie tier can read and write them.
func CookieJarMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jar := common.NewRequestCookieJar(w, r)
		next.ServeHTTP(w, r.WithContext(common.WithCookieJar(r.Context(), jar)))
	})
}
