package middleware

import (
	"net/http"
)

// AllowedOrigins is the set of browser origins the API and the realtime
// endpoint accept.
type AllowedOrigins map[string]bool

func NewAllowedOrigins(origins []string) AllowedOrigins {
	allowed := make(AllowedOrigins, len(origins))
	for _, origin := range origins {
		allowed[origin] = true
	}
	return allowed
}

// Allows reports whether origin may talk to the server. Requests without
// an Origin header are not cross-origin and are allowed.
func (a AllowedOrigins) Allows(origin string) bool {
	return origin == "" || a[origin]
}

// CORSMiddleware handles Cross-Origin Resource Sharing headers.
// It echoes allowed origins and handles preflight OPTIONS requests.
func CORSMiddleware(allowed AllowedOrigins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			w.Header().Add("Vary", "Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
