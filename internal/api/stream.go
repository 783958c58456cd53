package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/drishti-labs/crowdwatch/internal/httputil"
	"github.com/drishti-labs/crowdwatch/internal/monitoring"
)

// streamResults issues Server-Sent Events carrying each analysis tick's
// merged result. Subscribing starts the session if it is not running;
// disconnecting unsubscribes, and the last subscriber leaving tears the
// session down.
func (s *Server) streamResults(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}
	video := r.PathValue("video")

	_, subID, results, err := s.sessions.Subscribe(video)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	defer s.sessions.Unsubscribe(video, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case result, ok := <-results:
			if !ok {
				return
			}
			payload, err := json.Marshal(result)
			if err != nil {
				monitoring.Logf("stream %s: marshal result: %v", video, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
			if result.Final {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
