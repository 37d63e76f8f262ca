package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aretw0/threadline/pkg/domain"
)

// ChatStream handles POST /chat/stream as Server-Sent Events.
//
// The stream opens with a "thread" event whose data is the thread ID, then
// carries one event per engine event, named after its type: "stage",
// "done" or "failed". Lease and input errors are reported as plain JSON
// errors before the stream starts.
func (s *Server) ChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.Logger.Error("ChatStream: Streaming not supported")
		return
	}

	var req domain.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	events, err := s.Engine.Stream(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	announced := false
	for ev := range events {
		if !announced {
			fmt.Fprintf(w, "event: thread\ndata: %s\n\n", ev.ThreadID)
			announced = true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			s.Logger.Error("SSE: event encode failed", "thread_id", ev.ThreadID, "err", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
	s.Logger.Debug("SSE: stream closed", "path", r.URL.Path)
}
