package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyAuth guards the mutating endpoints with the shared app key
// sent in X-API-Key. The compare is constant-time. An empty configured
// key disables the check (local development).
func APIKeyAuth(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secretKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secretKey)) != 1 {
				http.Error(w, `{"success":false,"error":"Acces neautorizat"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
