// Package httpapi exposes the platform webhook and the operator admin API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

// Server hosts the webhook and admin endpoints on one listener.
type Server struct {
	host    string
	port    int
	webhook *WebhookHandler
	admin   *AdminHandler

	httpServer *http.Server
}

// NewServer creates the HTTP server. Handlers may be nil to disable their
// routes (e.g. admin API off when no token is configured).
func NewServer(host string, port int, webhook *WebhookHandler, admin *AdminHandler) *Server {
	return &Server{host: host, port: port, webhook: webhook, admin: admin}
}

// BuildMux assembles the route table.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.webhook != nil {
		s.webhook.RegisterRoutes(mux)
	}
	if s.admin != nil {
		s.admin.RegisterRoutes(mux)
	}
	return mux
}

// Start begins listening and blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.BuildMux(),
	}

	slog.Info("http server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
