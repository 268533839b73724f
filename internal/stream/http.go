package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// EventsHandler streams UI events to the browser as Server-Sent Events.
type EventsHandler struct {
	broadcaster *Broadcaster
	log         zerolog.Logger
	keepAlive   time.Duration
}

// NewEventsHandler creates an SSE handler.
func NewEventsHandler(b *Broadcaster, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		broadcaster: b,
		log:         log.With().Str("component", "sse").Logger(),
		keepAlive:   15 * time.Second,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Debug().Int("total", h.broadcaster.ListenerCount()).Msg("event listener connected")
	defer h.log.Debug().Msg("event listener disconnected")

	ping := time.NewTicker(h.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.done:
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-listener.C:
			data, err := json.Marshal(e)
			if err != nil {
				h.log.Warn().Err(err).Msg("event marshal failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
