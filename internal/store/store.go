// Package store persists detections, alerts and system events.
//
// All calls from the detection path are fire-and-forget: failures are
// logged locally by the caller and never propagate into stream workers.
package store

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vdetect/streamguard/pkg/types"
)

// Store wraps the event database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	return New(db)
}

// New wraps an existing database handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Stream{}, &Detection{}, &Alert{}, &SystemEvent{}); err != nil {
		return nil, fmt.Errorf("migrate event store: %w", err)
	}
	return &Store{db: db}, nil
}

// getOrCreateStream resolves the persisted row for a stream id.
func (s *Store) getOrCreateStream(streamID, name, url string) (*Stream, error) {
	var row Stream
	err := s.db.Where(&Stream{StreamID: streamID}).First(&row).Error
	if err == nil {
		return &row, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	row = Stream{StreamID: streamID, Name: name, URL: url, IsActive: true}
	if err := s.db.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// SaveDetection persists one detection and, when it is a violence event,
// an alert referencing it.
func (s *Store) SaveDetection(result types.DetectionResult) error {
	row, err := s.getOrCreateStream(result.StreamID, result.StreamID, "")
	if err != nil {
		return err
	}

	sec := int64(result.Timestamp)
	nsec := int64((result.Timestamp - float64(sec)) * float64(time.Second))
	det := Detection{
		StreamID:   row.ID,
		Timestamp:  time.Unix(sec, nsec),
		IsViolence: result.IsViolence,
		Confidence: result.Confidence,
		FrameData:  result.FrameData,
	}
	if err := s.db.Create(&det).Error; err != nil {
		return err
	}

	if result.IsViolence {
		alert := Alert{
			StreamID:    &row.ID,
			DetectionID: &det.ID,
			Type:        "violence",
			Message:     fmt.Sprintf("Violence detected in stream %s", result.StreamID),
			Severity:    "high",
		}
		if err := s.db.Create(&alert).Error; err != nil {
			return err
		}
	}
	return nil
}

// SaveSystemEvent records a lifecycle event.
func (s *Store) SaveSystemEvent(eventType, message, details string) error {
	return s.db.Create(&SystemEvent{EventType: eventType, Message: message, Details: details}).Error
}

// DetectionFilter narrows Detections queries.
type DetectionFilter struct {
	Limit      int
	Offset     int
	StreamID   string
	IsViolence *bool
}

// Detections lists persisted detections, newest first.
func (s *Store) Detections(f DetectionFilter) ([]Detection, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q := s.db.Model(&Detection{}).
		Joins("Stream").
		Order("detections.timestamp DESC").
		Limit(f.Limit).
		Offset(f.Offset)
	if f.StreamID != "" {
		q = q.Where("Stream.stream_id = ?", f.StreamID)
	}
	if f.IsViolence != nil {
		q = q.Where("detections.is_violence = ?", *f.IsViolence)
	}

	var rows []Detection
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].StreamKey = rows[i].Stream.StreamID
	}
	return rows, nil
}

// AlertFilter narrows Alerts queries.
type AlertFilter struct {
	Limit        int
	Offset       int
	Type         string
	Acknowledged *bool
}

// Alerts lists persisted alerts, newest first.
func (s *Store) Alerts(f AlertFilter) ([]Alert, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q := s.db.Model(&Alert{}).
		Joins("Stream").
		Order("alerts.created_at DESC").
		Limit(f.Limit).
		Offset(f.Offset)
	if f.Type != "" {
		q = q.Where("alerts.type = ?", f.Type)
	}
	if f.Acknowledged != nil {
		q = q.Where("alerts.acknowledged = ?", *f.Acknowledged)
	}

	var rows []Alert
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Stream != nil {
			rows[i].StreamKey = rows[i].Stream.StreamID
		}
	}
	return rows, nil
}

// AcknowledgeAlert marks one alert acknowledged.
func (s *Store) AcknowledgeAlert(id uint, by string) (bool, error) {
	now := time.Now()
	res := s.db.Model(&Alert{}).Where("id = ?", id).Updates(map[string]any{
		"acknowledged":    true,
		"acknowledged_by": by,
		"acknowledged_at": &now,
	})
	return res.RowsAffected > 0, res.Error
}

// AcknowledgeDetection marks one detection acknowledged.
func (s *Store) AcknowledgeDetection(id uint) (bool, error) {
	res := s.db.Model(&Detection{}).Where("id = ?", id).Update("acknowledged", true)
	return res.RowsAffected > 0, res.Error
}

// Statistics summarizes activity over the trailing day window.
type Statistics struct {
	PeriodDays           int     `json:"period_days"`
	TotalDetections      int64   `json:"total_detections"`
	ViolenceDetections   int64   `json:"violence_detections"`
	ViolencePercentage   float64 `json:"violence_percentage"`
	TotalAlerts          int64   `json:"total_alerts"`
	UnacknowledgedAlerts int64   `json:"unacknowledged_alerts"`
}

// GetStatistics computes detection and alert counts for the last days.
func (s *Store) GetStatistics(days int) (*Statistics, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)
	stats := &Statistics{PeriodDays: days}

	if err := s.db.Model(&Detection{}).Where("created_at >= ?", since).
		Count(&stats.TotalDetections).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&Detection{}).Where("created_at >= ? AND is_violence = ?", since, true).
		Count(&stats.ViolenceDetections).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&Alert{}).Where("created_at >= ?", since).
		Count(&stats.TotalAlerts).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&Alert{}).Where("created_at >= ? AND acknowledged = ?", since, false).
		Count(&stats.UnacknowledgedAlerts).Error; err != nil {
		return nil, err
	}

	if stats.TotalDetections > 0 {
		stats.ViolencePercentage = float64(stats.ViolenceDetections) / float64(stats.TotalDetections) * 100
	}
	return stats, nil
}

// CleanupResult reports how many rows a cleanup removed.
type CleanupResult struct {
	DeletedDetections int64 `json:"deleted_detections"`
	DeletedAlerts     int64 `json:"deleted_alerts"`
	DeletedEvents     int64 `json:"deleted_events"`
}

// Cleanup deletes rows older than the given number of days.
func (s *Store) Cleanup(days int) (*CleanupResult, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	out := &CleanupResult{}

	res := s.db.Where("created_at < ?", cutoff).Delete(&Alert{})
	if res.Error != nil {
		return nil, res.Error
	}
	out.DeletedAlerts = res.RowsAffected

	res = s.db.Where("created_at < ?", cutoff).Delete(&Detection{})
	if res.Error != nil {
		return nil, res.Error
	}
	out.DeletedDetections = res.RowsAffected

	res = s.db.Where("created_at < ?", cutoff).Delete(&SystemEvent{})
	if res.Error != nil {
		return nil, res.Error
	}
	out.DeletedEvents = res.RowsAffected

	return out, nil
}
