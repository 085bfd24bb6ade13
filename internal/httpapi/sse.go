package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// keepaliveInterval is how often an SSE comment is written so idle
// connections survive proxies with read timeouts.
const keepaliveInterval = 15 * time.Second

// handleStreamEvents serves the session log as server-sent events. Every
// event already in the log from the requested offset is replayed first, then
// new events are pushed as they are appended. The stream closes when the
// session ends or the client disconnects.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	offset, err := parseUint(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeProblem(w, schema.Validationf("invalid offset: %v", err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, schema.Internalf("streaming unsupported by connection"))
		return
	}

	events, err := s.manager.Subscribe(r.Context(), r.PathValue("id"), offset)
	if err != nil {
		writeProblem(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	enc := json.NewEncoder(w)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			// Encode writes a trailing newline; one more terminates the frame.
			if err := enc.Encode(ev); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
