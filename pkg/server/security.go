package server

import (
	"net/http"
)

// securityHeadersMiddleware sets conservative browser headers. The API is
// JSON-only but status pages do get opened in browsers directly.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// most deployments sit on the LAN over plain HTTP, where an HSTS
		// header would lock browsers out of the service entirely
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			// max-age=2 years
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
