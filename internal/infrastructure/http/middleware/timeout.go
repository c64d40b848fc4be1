package middleware

import (
	"context"
	"net/http"
	"time"
)

// Deadline bounds the request context of routes that wait on SUNAT.
// A submission cut short by it parks the document and can be resumed.
// The server's WriteTimeout must be at least d for the response to reach the client.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
