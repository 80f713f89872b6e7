package types

import "time"

// Model input geometry. Frames are normalized to this shape before they
// enter a stream's window buffer.
const (
	FrameChannels = 3
	FrameHeight   = 224
	FrameWidth    = 224
	FrameLen      = FrameChannels * FrameHeight * FrameWidth

	// ThumbnailSize is the square edge of detection thumbnails.
	ThumbnailSize = 128
)

// Frame is a single normalized video frame in CHW layout, values in [0,1].
type Frame struct {
	Data      []float32 // len == FrameLen
	Timestamp time.Time
}

// DetectionResult is one inference outcome for one stream window.
// Immutable once created.
type DetectionResult struct {
	StreamID   string  `json:"stream_id"`
	Timestamp  float64 `json:"timestamp"`
	IsViolence bool    `json:"is_violence"`
	Confidence float64 `json:"confidence"`
	FrameData  string  `json:"frame_data"` // base64 JPEG thumbnail, may be empty
}

// StreamStatus is a point-in-time snapshot of one stream's runtime state.
type StreamStatus struct {
	ID             string           `json:"id"`
	URL            string           `json:"url"`
	Name           string           `json:"name"`
	Enabled        bool             `json:"enabled"`
	IsRunning      bool             `json:"is_running"`
	FPS            float64          `json:"fps"`
	TotalFrames    int64            `json:"total_frames"`
	DetectionCount int64            `json:"detection_count"`
	StartTime      *time.Time       `json:"start_time,omitempty"`
	LastDetection  *DetectionResult `json:"last_detection,omitempty"`
}

// Message kinds delivered to subscribers. Each broadcast message is one
// tagged payload, delivered atomically per send.
const (
	MessageDetection = "detection_result"
	MessageStatus    = "streams_status"
	MessageFrame     = "frame"
	MessageLoading   = "loading"
	MessageError     = "error"
	MessagePong      = "pong"
)

// Message is a tagged broadcast payload.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
