// Package httpserver builds the process HTTP server with this service's
// defaults and owns its shutdown budget.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

const (
	defaultAddr = ":8080"

	// How long in-flight requests get to finish on shutdown. Longer than
	// the upstream call timeout so an initiation mid-flight can complete.
	shutdownTimeout = 10 * time.Second
)

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	if addr == "" {
		addr = defaultAddr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Shutdown drains in-flight requests, bounded by the shutdown budget.
func Shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
