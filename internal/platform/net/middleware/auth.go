package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	perr "replyloop/internal/platform/errors"
	pnet "replyloop/internal/platform/net"
)

// BearerSecret guards scheduler-facing routes with a shared static secret.
// An empty secret rejects everything, so a missing env var fails closed
func BearerSecret(secret string, write func(w http.ResponseWriter, status int, body any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				status, body := pnet.Error(perr.Unauthorizedf("bad or missing bearer token"), pnet.RequestID(r.Context()))
				write(w, status, body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
