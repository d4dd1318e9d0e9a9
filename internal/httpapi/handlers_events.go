package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/raeburn-ai/raeburn/internal/events"
)

// heartbeatEvery paces SSE comment lines so idle streams survive proxies
// that reap quiet connections.
const heartbeatEvery = 15 * time.Second

// SSEHandler streams orchestration events to the client using Server-Sent
// Events. Slow clients miss events rather than stalling the bus.
func SSEHandler(bus *events.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			jsonError(w, "connection does not support streaming", http.StatusInternalServerError)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")

		sub := bus.Subscribe(64)
		defer bus.Unsubscribe(sub)

		// Handshake so clients know the subscription is live before any
		// event fires.
		writeEvent(w, flusher, "connected", `{"status":"ok"}`)

		ticker := time.NewTicker(heartbeatEvery)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-sub.C:
				writeEvent(w, flusher, string(e.Type), string(e.JSON()))
			case <-ticker.C:
				// Comment line per the SSE spec; clients ignore it.
				_, _ = fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, f http.Flusher, name, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	f.Flush()
}
