package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/productflow/internal/logging"
	"github.com/aretw0/productflow/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// StreamManager fans workflow events out to SSE subscribers of a session.
// It implements ports.Notifier.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // SessionID -> Set of Channels
	logger      *slog.Logger
}

// NewStreamManager creates an empty manager. A nil logger discards output.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a buffered channel for a session. The returned
// function unregisters and closes it.
func (sm *StreamManager) Subscribe(sessionID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		subs := sm.subscribers[sessionID]
		if _, ok := subs[ch]; !ok {
			return // already closed by Close
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(sm.subscribers, sessionID)
		}
	}
}

// Close ends every stream of the session. Pending messages are still
// delivered before the channels report closed.
func (sm *StreamManager) Close(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for ch := range sm.subscribers[sessionID] {
		close(ch)
	}
	delete(sm.subscribers, sessionID)
}

// Broadcast sends msg to every subscriber of the session without blocking.
func (sm *StreamManager) Broadcast(sessionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[sessionID] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "session_id", sessionID)
		}
	}
}

// Publish implements ports.Notifier.
func (sm *StreamManager) Publish(_ context.Context, e domain.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		sm.logger.Error("SSE: Event encode failed", "event", string(e.Type), "err", err)
		return
	}
	sm.Broadcast(e.SessionID, string(data))
}

// SubscribeEvents handles GET /sessions/{sessionID}/events (SSE).
// The optional "types" query parameter filters by comma-separated event types.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	// Reject unknown and expired sessions before streaming.
	if _, err := s.Orchestrator.GetSessionProgress(r.Context(), sessionID); err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	var filter map[string]bool
	if types := r.URL.Query().Get("types"); types != "" {
		filter = make(map[string]bool)
		for _, t := range strings.Split(types, ",") {
			filter[strings.TrimSpace(t)] = true
		}
	}

	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("SSE: Subscribed to session events", "session_id", sessionID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: Client disconnected", "session_id", sessionID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if filter != nil {
				var e domain.Event
				if err := json.Unmarshal([]byte(msg), &e); err == nil && !filter[string(e.Type)] {
					continue
				}
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(msg), msg)
			flusher.Flush()
		}
	}
}

func eventName(msg string) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal([]byte(msg), &head) != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}
