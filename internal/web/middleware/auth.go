package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// BearerToken returns middleware that requires "Authorization: Bearer
// <token>". An empty token disables the check.
func BearerToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logging.FromContext(r.Context()).Warn("auth: rejected status request",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"has_header", r.Header.Get("Authorization") != "",
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="recorder"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing token","code":"AUTH002"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
