package http

import (
	"net/http"

	"github.com/rs/cors"
)

// withLocalGuards admits only loopback peers addressing a local host name.
func (s *Server) withLocalGuards(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			http.Error(w, HTTPErrorForbiddenText, http.StatusForbidden)
			return
		}
		if !isSafeLocalHost(r.Host) {
			http.Error(w, HTTPErrorForbiddenHostText, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// withOriginCheck rejects browser requests from origins outside the allowlist.
// Requests without an Origin header come from local tools and pass.
func (s *Server) withOriginCheck(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.originAllowed(r) {
			http.Error(w, HTTPErrorForbiddenText, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return true
	}
	origin := normalizeOrigin(raw)
	return origin != "" && s.allowedOrigins.Contains(origin)
}

// newCorsHandler adds preflight support for the allowlisted origins. With no
// origins configured no CORS headers are emitted at all.
func newCorsHandler(next http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return next
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         corsMaxAge,
	})
	return c.Handler(next)
}
