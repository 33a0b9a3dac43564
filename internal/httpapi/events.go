package httpapi

import (
	"net/http"
	"time"
)

// handleTaskEventsWS streams the live task event feed over a websocket. The
// subscription drops events for slow readers instead of blocking the
// scheduler.
func (s *Server) handleTaskEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, release := s.scheduler.Subscribe()
	defer release()

	// Reads are only consumed to detect the client going away.
	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		conn.SetReadLimit(1 << 10)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerGone:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
