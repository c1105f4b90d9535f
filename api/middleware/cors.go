package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/threadline-backend/api/responses"
)

// Local storefront dev servers are always allowed.
var localOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// CORS allows the storefront to call the API with credentials. The cart session,
// request id and replay headers are exposed so the browser client can read them.
func CORS(origins ...string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins(origins),
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", CartSessionHeader, "Idempotency-Key", "X-Requested-With"},
		ExposedHeaders: []string{
			CartSessionHeader,
			responses.RequestIDHeader,
			"Idempotent-Replayed",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}

func allowedOrigins(extra []string) []string {
	seen := make(map[string]struct{}, len(localOrigins)+len(extra))
	out := make([]string, 0, len(localOrigins)+len(extra))
	for _, origin := range append(append([]string(nil), localOrigins...), extra...) {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if _, dup := seen[origin]; dup {
			continue
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}
	return out
}
