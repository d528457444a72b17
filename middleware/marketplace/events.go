package marketplace

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskmarket-backend/core/marketplace"
)

const maxEvents = 200

// recordEvent keeps a bounded newest-first buffer and fans out to listeners.
func (s *Server) recordEvent(evt marketplace.Event) {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	s.eventsMu.Lock()
	s.events = append([]marketplace.Event{evt}, s.events...)
	if len(s.events) > maxEvents {
		s.events = s.events[:maxEvents]
	}
	s.eventsMu.Unlock()
	s.broadcastEvent(evt)
}

// broadcastEvent pushes an event to connected listeners without blocking.
func (s *Server) broadcastEvent(evt marketplace.Event) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- evt:
		default:
			// drop if slow consumer
		}
	}
}

func (s *Server) addListener() chan marketplace.Event {
	ch := make(chan marketplace.Event, 10)
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, ch)
	s.listenersMu.Unlock()
	return ch
}

func (s *Server) removeListener(ch chan marketplace.Event) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for i, c := range s.listeners {
		if c == ch {
			close(c)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			break
		}
	}
}

type eventFilter struct {
	operation string
	account   string
	taskID    uint64
}

func filterFromQuery(r *http.Request) eventFilter {
	f := eventFilter{
		operation: strings.TrimSpace(r.URL.Query().Get("operation")),
		account:   strings.TrimSpace(r.URL.Query().Get("account")),
	}
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		f.taskID, _ = strconv.ParseUint(raw, 10, 64)
	}
	return f
}

func (f eventFilter) matches(evt marketplace.Event) bool {
	if f.operation != "" && !strings.EqualFold(evt.Operation, f.operation) {
		return false
	}
	if f.taskID != 0 && evt.TaskID != f.taskID {
		return false
	}
	if f.account != "" {
		for _, a := range evt.Accounts {
			if a == f.account {
				return true
			}
		}
		return false
	}
	return true
}

func writeSSE(w http.ResponseWriter, evt marketplace.Event) {
	b, _ := json.Marshal(evt)
	w.Write([]byte("event: market\n"))
	w.Write([]byte("id: " + evt.ID + "\n"))
	w.Write([]byte("data: " + string(b) + "\n\n"))
}

// handleEvents lists recent events, or streams them when the client accepts
// text/event-stream.
// @Summary Recent marketplace events
// @Tags Events
// @Produce json
// @Param operation query string false "operation name"
// @Param account query string false "involved account"
// @Param task_id query int false "task id"
// @Param limit query int false "max events" default(50)
// @Success 200 {object} EventsResponse
// @Router /api/marketplace/events [get]
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter := filterFromQuery(r)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		flusher, ok := w.(http.Flusher)
		if !ok {
			Error(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := s.addListener()
		defer s.removeListener(ch)

		s.eventsMu.Lock()
		initial := append([]marketplace.Event(nil), s.events...)
		s.eventsMu.Unlock()
		for i := len(initial) - 1; i >= 0; i-- { // oldest first
			if filter.matches(initial[i]) {
				writeSSE(w, initial[i])
			}
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case evt := <-ch:
				if !filter.matches(evt) {
					continue
				}
				writeSSE(w, evt)
				flusher.Flush()
			}
		}
	}

	limit := intFromQuery(r, "limit", 50)
	s.eventsMu.Lock()
	events := append([]marketplace.Event(nil), s.events...)
	s.eventsMu.Unlock()
	filtered := make([]marketplace.Event, 0, len(events))
	for _, evt := range events {
		if filter.matches(evt) {
			filtered = append(filtered, evt)
		}
	}
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	JSON(w, http.StatusOK, EventsResponse{Events: filtered, Total: len(filtered)})
}
