// Package server provides HTTP server construction for `pushbox serve`.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/pushbox/internal/auth"
	"github.com/alexjbarnes/pushbox/internal/metrics"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Keys       []auth.Key
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux with the MCP endpoint behind API-key
// middleware, Prometheus metrics and a liveness probe.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	return mux
}

// New wraps a handler in an http.Server with the timeouts pushbox uses.
// WriteTimeout is generous because a push tool call runs a whole upload.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}
