package api

import (
	"crypto/subtle"
	"net/http"
)

// AdminAuth guards admin routes with HTTP basic auth. An empty password
// leaves the routes open (first-run scenario).
func AdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="tokenkeeper"`)
				writeError(w, http.StatusUnauthorized, "Invalid admin credentials", "authentication_error")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
