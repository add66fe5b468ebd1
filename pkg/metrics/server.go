package metrics

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics (via promhttp) and /health over a single stdlib
// http.Server (a single route does not justify pulling in go-chi), with
// NewServer/StartAsync/Stop built on logr.
type Server struct {
	server *http.Server
	log    logr.Logger
}

// NewServer builds a Server bound to ":port". Passing an empty or "0"
// port is legal (SPEC_FULL.md §6 "METRICS_PORT (0 disables listener)");
// the caller decides whether to call StartAsync at all.
func NewServer(port string, log logr.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    log,
	}
}

// StartAsync starts serving in a background goroutine. A bind failure
// other than http.ErrServerClosed is logged, not returned, matching the
// teacher's fire-and-forget StartAsync (the dispatch loop never blocks on
// the metrics listener — SPEC_FULL.md §4.7).
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "metrics server exited")
		}
	}()
}

// Stop gracefully shuts the listener down, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
