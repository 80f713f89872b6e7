// Package settings holds the live-tunable system configuration.
//
// Workers read a fresh snapshot at each decision point, so a settings
// update applies mid-stream without a restart. Snapshots are immutable
// and swapped atomically; a reader never observes a partially-updated
// value. Cross-field atomicity within one worker cycle is not guaranteed.
package settings

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalid is returned when a settings update fails validation.
// The previous snapshot stays active.
var ErrInvalid = errors.New("invalid settings")

// Telegram holds the notification transport configuration.
type Telegram struct {
	BotToken             string `json:"bot_token"`
	ChatID               string `json:"chat_id"`
	Enabled              bool   `json:"enabled"`
	NotificationInterval int    `json:"notification_interval"` // seconds between alerts during an episode
	MaxNotifications     int    `json:"max_notifications"`     // alert cap per episode
	SendThumbnails       bool   `json:"send_thumbnails"`
}

// Settings is one immutable configuration snapshot.
type Settings struct {
	Version int `json:"version"`

	// Inference backend
	InferenceURL string `json:"inference_url"`
	ModelName    string `json:"model_name"`
	ModelVersion string `json:"model_version"`

	// Stream processing
	MaxStreams          int     `json:"max_streams"`
	FrameSkip           int     `json:"frame_skip"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	BufferSize          int     `json:"buffer_size"`

	Telegram Telegram `json:"telegram"`
}

// Default returns the factory settings.
func Default() Settings {
	return Settings{
		InferenceURL:        "http://localhost:8000",
		ModelName:           "violence_model",
		ModelVersion:        "1",
		MaxStreams:          10,
		FrameSkip:           3,
		ConfidenceThreshold: 0.7,
		BufferSize:          16,
		Telegram: Telegram{
			NotificationInterval: 300,
			MaxNotifications:     5,
			SendThumbnails:       true,
		},
	}
}

// Validate rejects settings no worker could run with.
func (s Settings) Validate() error {
	if s.BufferSize < 1 {
		return fmt.Errorf("%w: buffer_size must be >= 1, got %d", ErrInvalid, s.BufferSize)
	}
	if s.FrameSkip < 1 {
		return fmt.Errorf("%w: frame_skip must be >= 1, got %d", ErrInvalid, s.FrameSkip)
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold must be in [0,1], got %v", ErrInvalid, s.ConfidenceThreshold)
	}
	if s.MaxStreams < 1 {
		return fmt.Errorf("%w: max_streams must be >= 1, got %d", ErrInvalid, s.MaxStreams)
	}
	if s.InferenceURL == "" {
		return fmt.Errorf("%w: inference_url must not be empty", ErrInvalid)
	}
	if s.Telegram.NotificationInterval < 1 {
		return fmt.Errorf("%w: notification_interval must be >= 1, got %d", ErrInvalid, s.Telegram.NotificationInterval)
	}
	if s.Telegram.MaxNotifications < 1 {
		return fmt.Errorf("%w: max_notifications must be >= 1, got %d", ErrInvalid, s.Telegram.MaxNotifications)
	}
	return nil
}

// Store publishes settings snapshots to concurrent readers.
type Store struct {
	current atomic.Pointer[Settings]
}

// NewStore creates a store seeded with the given snapshot.
func NewStore(s Settings) (*Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	st := &Store{}
	s.Version = 1
	st.current.Store(&s)
	return st, nil
}

// Snapshot returns the current settings. The returned value is a copy;
// callers may hold it across an update without seeing torn reads.
func (st *Store) Snapshot() Settings {
	return *st.current.Load()
}

// Update validates and swaps in a new snapshot. On validation failure
// the previous snapshot remains active.
func (st *Store) Update(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	prev := st.current.Load()
	s.Version = prev.Version + 1
	st.current.Store(&s)
	return nil
}

// UpdateTelegram swaps only the Telegram section.
func (st *Store) UpdateTelegram(t Telegram) error {
	s := st.Snapshot()
	s.Telegram = t
	return st.Update(s)
}
