package server

import (
	"net/http"

	"github.com/bobmcallan/llm-proxy/internal/handlers"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Chat completions (signed, rate limited)
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{
			http.MethodPost: s.app.ChatHandler.ServeHTTP,
		})
	})

	// MCP endpoint (diagnostics, optional)
	if s.app.MCPHandler != nil {
		mux.Handle("/mcp", s.app.MCPHandler)
	}

	// API routes
	mux.HandleFunc("/api/health", s.app.HealthHandler.ServeHTTP)
	mux.HandleFunc("/api/version", s.app.VersionHandler.ServeHTTP)
	if s.app.MetricsHandler != nil {
		mux.HandleFunc("/api/metrics", s.app.MetricsHandler.ServeHTTP)
	}

	// JSON 404 for everything else
	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

// handleNotFound returns a JSON 404 for unmatched routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "not_found", "the requested endpoint does not exist")
}
