package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/notification"
	"github.com/execution-hub/content-approval/internal/infrastructure/sse"
)

// sseEndpoint streams notifications addressed to the caller. ?watch=all
// subscribes to every event. Client ids are always server-assigned so one
// connection cannot displace another.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	clientID := uuid.NewString()
	reviewer := reviewerFromContext(r.Context())
	var groups []string
	if r.URL.Query().Get("watch") == "all" {
		groups = []string{sse.WatchAll}
	}
	client := notification.NewSSEClient(clientID, &reviewer, groups)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected " + clientID + "\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-client.MessageChan:
			if !ok || msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("id: " + msg.ID + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
