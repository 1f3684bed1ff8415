package server

import "net/http"

// requireAdmin protects mutating endpoints with a bearer token. With no
// token configured the endpoints stay disabled rather than open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken == "" {
			s.log.Warn("admin endpoint accessed but no admin token configured")
			http.Error(w, "Admin API is disabled. Configure an admin token to enable.", http.StatusForbidden)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if auth != "Bearer "+s.config.AdminToken {
			s.log.Warn("invalid admin token attempt", "remote_addr", r.RemoteAddr)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
