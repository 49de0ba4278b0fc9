package server

import (
	"net/http"
	"strings"
)

// Handler returns the server's routes wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/jobs", s.HandleSubmitJob)
	mux.HandleFunc("GET /api/jobs", s.HandleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.HandleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.HandleDeleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.HandleRetryJob)
	mux.HandleFunc("GET /api/jobs/{id}/candidates", s.HandleListCandidates)
	mux.HandleFunc("GET /api/jobs/{id}/logs", s.HandleJobLogs)
	mux.HandleFunc("GET /api/jobs/{id}/export", s.HandleExport)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /ws", s.HandleWebSocket)

	return s.corsMiddleware(mux)
}

// corsMiddleware sets CORS headers for allowed origins and answers preflights
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin accepts requests without an Origin header and origins matching
// a configured prefix (any port). With no configuration only localhost is allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := s.opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"http://localhost", "https://localhost", "http://127.0.0.1"}
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
