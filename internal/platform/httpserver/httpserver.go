package httpserver

import (
	"net/http"

	"roster/internal/platform/config"
)

// New builds the HTTP server from the server settings. WriteTimeout stays
// above the per-request timeout so handlers can still write their 503.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
