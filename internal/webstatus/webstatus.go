// Package webstatus is a minimal read-only HTTP collaborator exposing
// GET /status and GET /healthz, gated by CORRAL_WEB_PORT/CORRAL_NO_WEB
// per spec.md §6. It binds the configured port, or the next 10 if busy.
// Full TUI/browser dashboards stay out of scope (spec.md §1) — this
// exists only so something other than the Unix-socket RPC can poll
// status, e.g. a monitoring sidecar.
package webstatus

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/corralhq/corral/internal/orchestrator"
	"github.com/corralhq/corral/internal/status"
)

// portSearchRange is how many additional ports to try after the
// configured one before giving up, per spec.md §6.
const portSearchRange = 10

// shutdownTimeout bounds Stop's wait for in-flight requests to finish.
const shutdownTimeout = 3 * time.Second

// Server serves the read-only status endpoints.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// Listen binds the first free port starting at basePort, trying up to
// portSearchRange additional ports if it's busy.
func Listen(basePort int, orch *orchestrator.Orchestrator, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var ln net.Listener
	var err error
	for i := 0; i <= portSearchRange; i++ {
		addr := fmt.Sprintf("127.0.0.1:%d", basePort+i)
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("webstatus: no free port in [%d, %d]: %w", basePort, basePort+portSearchRange, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := status.WriteJSON(w, orch.List()); err != nil {
			logger.Warn("webstatus: write status failed", "err", err)
		}
	})

	return &Server{
		httpServer: &http.Server{Handler: mux},
		listener:   ln,
		logger:     logger,
	}, nil
}

// Addr returns the bound address, e.g. for logging which port was used
// after a port-search fallback.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until Stop is called or the server fails to start.
func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
