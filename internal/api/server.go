// Package api exposes the orchestrator over HTTP: a JSON REST surface, a
// websocket session stream and the Prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/strumspace/internal/coordinator"
	"github.com/dreamware/strumspace/internal/logging"
)

// maxBodyBytes bounds request bodies; camera frames arrive base64-encoded.
const maxBodyBytes = 10 << 20

// Server routes HTTP and websocket traffic to an Orchestrator.
type Server struct {
	orch     *coordinator.Orchestrator
	metrics  http.Handler
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	refresher HealthRefresher

	mu       sync.Mutex
	sessions map[*wsClient]struct{}
	wg       sync.WaitGroup
}

// NewServer builds the router. metricsHandler serves GET /metrics and may
// be nil.
func NewServer(orch *coordinator.Orchestrator, metricsHandler http.Handler) *Server {
	s := &Server{
		orch:    orch,
		metrics: metricsHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*wsClient]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/system-status", s.handleSystemStatus)
	mux.HandleFunc("POST /api/process-request", s.handleProcessRequest)
	mux.HandleFunc("POST /api/service/register", s.handleRegister)
	mux.HandleFunc("GET /api/chord/{name}", s.handleChord)
	mux.HandleFunc("GET /api/chords", s.handleChords)
	mux.HandleFunc("GET /api/chords/search", s.handleSearch)
	mux.HandleFunc("GET /api/progression/{key}", s.handleProgression)
	mux.HandleFunc("GET /ws", s.handleWS)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	s.mux = mux
	return s
}

// HealthRefresher runs an immediate probe round. *coordinator.HealthMonitor
// satisfies it.
type HealthRefresher interface {
	Refresh(ctx context.Context) []coordinator.Transition
}

// SetHealthRefresher enables GET /api/system-status?refresh=true. Call it
// before serving.
func (s *Server) SetHealthRefresher(r HealthRefresher) {
	s.refresher = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ActiveSessions returns the number of open websocket connections.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseSessions closes every websocket connection and waits for their
// handlers to finish. http.Server.Shutdown does not track hijacked
// connections, so callers run this alongside it.
func (s *Server) CloseSessions(ctx context.Context) {
	s.mu.Lock()
	for c := range s.sessions {
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("API", "Timed out waiting for websocket sessions to close")
	}
}

// ListenAndServe runs an http.Server for s on addr until ctx is cancelled,
// then shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("API", "strumspace listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.CloseSessions(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.Info("API", "HTTP server stopped")
	return <-errCh
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("API", "Writing response failed: %v", err)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
