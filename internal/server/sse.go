package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/opencode-ai/diffview/internal/event"
	"github.com/opencode-ai/diffview/internal/logging"
)

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeRaw writes one SSE event whose data is already JSON.
func (s *sseWriter) writeRaw(eventType string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	// ResponseController reaches through middleware wrappers
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

// writeEvent writes an SSE event, marshaling data to JSON.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeRaw(eventType, jsonData)
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// eventRef holds the fields of a mirrored event that name a review.
type eventRef struct {
	Data struct {
		Info *struct {
			ID string `json:"id"`
		} `json:"info"`
		ReviewID string `json:"reviewID"`
	} `json:"data"`
}

// belongsTo reports whether a mirrored event payload concerns reviewID.
func belongsTo(payload []byte, reviewID string) bool {
	var ref eventRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return false
	}
	if ref.Data.Info != nil && ref.Data.Info.ID == reviewID {
		return true
	}
	return ref.Data.ReviewID == reviewID
}

// allEvents streams the event bus as SSE. With ?review=<id> only events of
// that review are sent.
func (srv *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	reviewID := r.URL.Query().Get("review")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	messages, err := srv.bus.Stream(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, err.Error())
		return
	}

	// Headers go out before the first event
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", event.Event{Type: "server.connected", Data: map[string]any{}}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-srv.bus.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := srv.forward(sse, msg, reviewID); err != nil {
				logging.Debug().Err(err).Msg("SSE client gone")
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

func (srv *Server) forward(sse *sseWriter, msg *message.Message, reviewID string) error {
	defer msg.Ack()
	if reviewID != "" && !belongsTo(msg.Payload, reviewID) {
		return nil
	}
	return sse.writeRaw("message", msg.Payload)
}
