// Package server hosts a local replay of a recorded build: the snapshot
// endpoint serves the journal's last baseline, and the stream endpoint
// re-emits the journalled events over SSE. Used for development and for
// exercising the client against realistic wire traffic.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pageforge/buildstream/internal/infrastructure/journal"
	"github.com/pageforge/buildstream/internal/infrastructure/sse"
)

// Server is the replay HTTP server.
type Server struct {
	addr     string
	journal  *journal.Journal
	interval time.Duration
	logger   *logrus.Entry

	mu       sync.Mutex
	handlers map[string]*sse.Handler

	server *http.Server
}

// New creates a replay server for a recorded journal. interval is the gap
// between re-emitted events; zero replays as fast as clients can read.
func New(addr string, j *journal.Journal, interval time.Duration, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		addr:     addr,
		journal:  j,
		interval: interval,
		logger:   logger,
		handlers: make(map[string]*sse.Handler),
	}
}

// Handler returns the route mux, exposed for httptest use.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/build/{buildID}/plan", s.handlePlan)
	mux.HandleFunc("GET /api/build/{buildID}/stream", s.handleStream)
	return mux
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the stream endpoint is long-lived.
	}

	s.logger.WithField("addr", s.addr).Info("replay server starting")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("buildID")

	plan, err := s.journal.LastSnapshot(buildID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if plan == nil {
		http.Error(w, "build not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(plan)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("buildID")
	handler := s.handlerFor(buildID)

	// Each connection triggers its own replay. The client's reducers are
	// idempotent, so overlapping replays from concurrent viewers converge
	// to the same projection.
	go s.replay(r.Context(), buildID, handler)

	handler.ServeHTTP(w, r)
}

func (s *Server) handlerFor(buildID string) *sse.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[buildID]
	if !ok {
		h = sse.NewHandler()
		s.handlers[buildID] = h
	}
	return h
}

func (s *Server) replay(ctx context.Context, buildID string, handler *sse.Handler) {
	records, err := s.journal.EventsSinceSnapshot(buildID)
	if err != nil {
		s.logger.WithError(err).Error("replay load failed")
		return
	}

	// The subscribing request registers with the handler after this
	// goroutine starts; wait for it so the first events are not dropped.
	for i := 0; i < 200 && handler.ClientCount() == 0; i++ {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		handler.Publish(rec.Kind, rec.Data)
		if s.interval > 0 {
			select {
			case <-time.After(s.interval):
			case <-ctx.Done():
				return
			}
		}
	}
}
