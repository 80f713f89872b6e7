package store

import "time"

// Stream is the persisted record of a registered stream.
type Stream struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StreamID  string    `gorm:"uniqueIndex;not null" json:"stream_id"`
	Name      string    `gorm:"not null" json:"name"`
	URL       string    `gorm:"not null" json:"url"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Detection is one persisted violence detection.
type Detection struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	StreamID     uint      `gorm:"index;not null" json:"-"`
	Stream       Stream    `json:"-"`
	StreamKey    string    `gorm:"-" json:"stream_id"`
	Timestamp    time.Time `gorm:"not null" json:"timestamp"`
	IsViolence   bool      `gorm:"not null" json:"is_violence"`
	Confidence   float64   `gorm:"not null" json:"confidence"`
	FrameData    string    `gorm:"type:text" json:"frame_data"`
	Processed    bool      `gorm:"default:false" json:"processed"`
	Acknowledged bool      `gorm:"default:false" json:"acknowledged"`
	CreatedAt    time.Time `json:"created_at"`
}

// Alert severity and type values follow the original schema: type is one
// of violence/error/info/warning, severity low/medium/high/critical.
type Alert struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	StreamID       *uint      `json:"-"`
	Stream         *Stream    `json:"-"`
	StreamKey      string     `gorm:"-" json:"stream_id,omitempty"`
	DetectionID    *uint      `json:"detection_id,omitempty"`
	Type           string     `gorm:"not null" json:"type"`
	Message        string     `gorm:"not null" json:"message"`
	Severity       string     `gorm:"default:medium" json:"severity"`
	Acknowledged   bool       `gorm:"default:false" json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SystemEvent records lifecycle events (stream_start, stream_stop, error).
type SystemEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventType string    `gorm:"not null" json:"event_type"`
	Message   string    `gorm:"not null" json:"message"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
