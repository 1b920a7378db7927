package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Keyring-Network/newslens/internal/events"
)

type Dispatcher interface {
	Handles(action events.Action) bool
	Stamp(req events.Request) events.Request
	Dispatch(ctx context.Context, req events.Request) error
}

type Broker interface {
	Subscribe(ctx context.Context) <-chan events.Result
}

type CacheStatus interface {
	Len(ctx context.Context) (int, error)
}

type BackendStatus interface {
	Ping(ctx context.Context) error
}

// Server is the popup-facing transport: requests come in as POSTs, results
// go out over a server-sent event stream.
type Server struct {
	dispatcher Dispatcher
	broker     Broker
	cache      CacheStatus
	backend    BackendStatus
	logger     *slog.Logger

	mu       sync.Mutex
	baseCtx  context.Context
	draining bool
	inflight sync.WaitGroup
}

func NewServer(dispatcher Dispatcher, broker Broker, cache CacheStatus, backend BackendStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		dispatcher: dispatcher,
		broker:     broker,
		cache:      cache,
		backend:    backend,
		logger:     logger,
		baseCtx:    context.Background(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/messages", s.postMessage)
	r.Get("/messages/stream", s.streamResults)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && (cleanPath == "/messages/stream" || cleanPath == "/health") {
		return true
	}
	if method == http.MethodOptions {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type subsystemStatus struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Entries *int   `json:"entries,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if s.cache == nil {
		subsystems["cache"] = subsystemStatus{Status: "skipped"}
	} else if entries, err := s.cache.Len(ctx); err != nil {
		subsystems["cache"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["cache"] = subsystemStatus{Status: "ok", Entries: &entries}
	}

	if s.backend == nil {
		subsystems["backend"] = subsystemStatus{Status: "skipped"}
	} else if err := s.backend.Ping(ctx); err != nil {
		subsystems["backend"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["backend"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, map[string]string{"error": message}, statusCode)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wait blocks until every dispatched request has reached a terminal state.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// track registers a dispatch with inflight. It reports false once Serve has
// begun its final Wait.
func (s *Server) track() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return nil, false
	}
	s.inflight.Add(1)
	return s.baseCtx, true
}

func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the router on ln until ctx ends, then drains open handlers and
// the dispatches they started before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	server := &http.Server{Handler: s.Router()}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("newslens listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", ln.Addr(), err)
	}
	// Serve returns as soon as Shutdown starts; postMessage may still be
	// adding to inflight until Shutdown has drained the handlers.
	<-drained
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.inflight.Wait()
	return nil
}
