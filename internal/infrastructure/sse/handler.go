// Package sse provides Server-Sent Events streaming of build push events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/pageforge/buildstream/internal/domain/events"
)

// frame is one outbound SSE message.
type frame struct {
	id   string
	kind events.Kind
	data []byte
}

// Handler broadcasts build events to all connected SSE clients. Each event
// is written on its kind-named channel (`event: task` etc.) with the raw
// payload as data.
type Handler struct {
	mu      sync.RWMutex
	clients map[chan frame]struct{}
}

// NewHandler creates an SSE handler with no clients.
func NewHandler() *Handler {
	return &Handler{
		clients: make(map[chan frame]struct{}),
	}
}

// Publish fans an event out to every connected client. Slow clients drop
// frames rather than blocking the publisher.
func (h *Handler) Publish(kind events.Kind, data json.RawMessage) {
	f := frame{id: uuid.New().String(), kind: kind, data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- f:
		default:
			// Drop if client is slow
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles SSE connections.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan frame, 64)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
		close(ch)
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "id: %s\n", f.id)
			_, _ = fmt.Fprintf(w, "event: %s\n", f.kind)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", f.data)
			flusher.Flush()
		}
	}
}
