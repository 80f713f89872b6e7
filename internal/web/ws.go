package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vdetect/streamguard/internal/capture"
	"github.com/vdetect/streamguard/internal/hub"
	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/pkg/types"
)

const (
	// previewWidth/Height size the per-stream preview feed.
	previewWidth  = 640
	previewHeight = 480

	// detectionFreshness bounds how old a detection may be and still ride
	// along with a preview frame.
	detectionFreshness = 5 * time.Second

	// sendTimeout bounds one websocket write.
	sendTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS attaches one client to the broadcast hub. The read loop only
// answers pings; everything else arrives via the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Web", "Websocket upgrade failed: %v", err)
		return
	}

	sub := hub.NewWSSubscriber(conn)
	s.hub.Connect(sub)
	defer s.hub.Disconnect(sub.ID())

	// Initial snapshot so a fresh client renders without waiting for the
	// next status tick.
	_ = sub.Send(types.Message{Type: types.MessageStatus, Data: s.registry.ListStatus()})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			_ = sub.Send(types.Message{Type: types.MessagePong})
		}
	}
}

// framePayload is the per-stream preview message body.
type framePayload struct {
	StreamID  string                 `json:"stream_id"`
	Timestamp float64                `json:"timestamp"`
	Frame     string                 `json:"frame"`
	Detection *types.DetectionResult `json:"detection,omitempty"`
}

// handleStreamWS pushes JPEG preview frames for one stream at a fixed
// cadence until the client disconnects or the stream stops.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("stream not found: %s", id))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Web", "Websocket upgrade failed for stream %s: %v", id, err)
		return
	}
	defer conn.Close()

	// Drain client messages so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if !p.IsRunning() {
			_ = writeWS(conn, types.Message{
				Type: types.MessageError,
				Data: fmt.Sprintf("Stream %s is not running", id),
			})
			return
		}

		frame := p.LatestFrame()
		if frame == nil {
			if err := writeWS(conn, types.Message{
				Type: types.MessageLoading,
				Data: fmt.Sprintf("Waiting for frames from %s", id),
			}); err != nil {
				return
			}
			continue
		}

		encoded, err := capture.EncodeJPEG(frame, previewWidth, previewHeight, 95)
		if err != nil {
			logger.Warn("Web", "Encode preview frame for %s failed: %v", id, err)
			continue
		}

		payload := framePayload{
			StreamID:  id,
			Timestamp: float64(frame.Timestamp.UnixNano()) / float64(time.Second),
			Frame:     encoded,
		}
		if last := p.Status().LastDetection; last != nil {
			age := time.Since(time.Unix(0, int64(last.Timestamp*float64(time.Second))))
			if age < detectionFreshness {
				payload.Detection = last
			}
		}

		if err := writeWS(conn, types.Message{Type: types.MessageFrame, Data: payload}); err != nil {
			return
		}
	}
}

func writeWS(conn *websocket.Conn, msg types.Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return conn.WriteJSON(msg)
}
