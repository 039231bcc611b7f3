package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
)

// CORS allows browser calls from the configured dashboard origins and answers
// preflight requests with 204.
//
// Listed origins get credentialed access. A "*" entry opens the routes to any
// origin with a literal "*" response and no credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := false

	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")

		switch origin {
		case "":
		case "*":
			wildcard = true
		default:
			origins = append(origins, origin)
		}
	}

	opts := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Correlation-ID"}),
		handlers.OptionStatusCode(http.StatusNoContent),
	}

	switch {
	case wildcard:
		opts = append(opts, handlers.AllowedOrigins([]string{"*"}))
	case len(origins) == 0:
		// handlers.CORS treats an empty list as "allow all"
		opts = append(opts, handlers.AllowedOriginValidator(func(string) bool { return false }))
	default:
		opts = append(opts,
			handlers.AllowedOrigins(origins),
			handlers.AllowCredentials(),
		)
	}

	cors := handlers.CORS(opts...)

	return func(next http.Handler) http.Handler {
		h := cors(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			h.ServeHTTP(w, r)
		})
	}
}
