package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/snapdog/snapdog/internal/command"
)

// sseHub fans every StatusEvent out to connected Server-Sent-Events
// clients, independent of the MQTT/KNX adapters. Registration is a plain
// subscriber map guarded by a mutex; each subscriber gets its own
// buffered channel so one slow client never blocks event delivery to the
// rest (same back-pressure isolation bus.NotificationQueue gives its
// per-routing-key shards).
type sseHub struct {
	mu   sync.Mutex
	subs map[chan command.StatusEvent]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{subs: make(map[chan command.StatusEvent]struct{})}
}

func (h *sseHub) subscribe() chan command.StatusEvent {
	ch := make(chan command.StatusEvent, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *sseHub) unsubscribe(ch chan command.StatusEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// broadcast delivers ev to every subscriber, dropping it for any
// subscriber whose buffer is currently full rather than blocking the
// caller — SSE clients are a best-effort view, unlike the retry-backed
// MQTT/KNX adapters.
func (h *sseHub) broadcast(ev command.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Publish satisfies bus.Adapter, letting the hub subscribe to the bus
// exactly like the MQTT and KNX adapters do.
func (h *sseHub) Publish(ctx context.Context, ev command.StatusEvent) error {
	h.broadcast(ev)
	return nil
}

const sseKeepAlive = 15 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeBadRequest(w, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			body, err := json.Marshal(sseEvent(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", body)
			flusher.Flush()
		}
	}
}
