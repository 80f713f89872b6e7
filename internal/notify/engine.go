// Package notify turns detection streams into throttled alerts.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/internal/metrics"
	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/pkg/types"
)

// maxAdaptiveInterval caps alert spacing within one episode.
const maxAdaptiveInterval = 1800 * time.Second

// Transport delivers one alert to a fixed destination. Failures are the
// transport's to report and the engine's to swallow.
type Transport interface {
	Send(message string, thumbnail string) error
}

// episode tracks one maximal contiguous run of violence detections for
// one stream. At most one episode is open per stream.
type episode struct {
	startTime         time.Time
	lastDetection     time.Time
	lastNotification  time.Time
	notificationCount int
	maxConfidence     float64
}

// Engine is the per-stream alert state machine. A stream is IDLE when it
// has no open episode and IN_EVENT otherwise. The engine guarantees an
// immediate first alert, caps alert volume per episode and widens the
// spacing as an episode persists.
type Engine struct {
	sets      *settings.Store
	metrics   *metrics.Metrics
	transport Transport
	now       func() time.Time

	mu       sync.Mutex
	episodes map[string]*episode
	wg       sync.WaitGroup
}

// NewEngine creates an engine delivering through the given transport.
func NewEngine(sets *settings.Store, m *metrics.Metrics, transport Transport) *Engine {
	return &Engine{
		sets:      sets,
		metrics:   m,
		transport: transport,
		now:       time.Now,
		episodes:  make(map[string]*episode),
	}
}

// OnDetection advances the stream's episode state machine with one
// detection outcome. Transport failures never propagate to the caller.
func (e *Engine) OnDetection(result types.DetectionResult) {
	snap := e.sets.Snapshot().Telegram
	if !snap.Enabled {
		return
	}

	now := e.now()
	streamID := result.StreamID

	e.mu.Lock()
	ep, inEvent := e.episodes[streamID]

	if !result.IsViolence {
		if !inEvent {
			e.mu.Unlock()
			return
		}
		// Episode over: report and discard all throttle state. A new
		// event right after reopens a fresh episode with no cooldown.
		duration := now.Sub(ep.startTime)
		msg := e.endedMessage(streamID, duration, ep)
		delete(e.episodes, streamID)
		e.mu.Unlock()
		e.dispatch(msg, "")
		return
	}

	if !inEvent {
		ep = &episode{
			startTime:        now,
			lastDetection:    now,
			lastNotification: now,
			maxConfidence:    result.Confidence,
		}
		e.episodes[streamID] = ep
		msg := e.ongoingMessage(streamID, result.Confidence, now, ep)
		e.mu.Unlock()
		e.dispatch(msg, result.FrameData)
		return
	}

	// Continuing episode.
	ep.lastDetection = now
	if result.Confidence > ep.maxConfidence {
		ep.maxConfidence = result.Confidence
	}

	if ep.notificationCount >= snap.MaxNotifications {
		e.mu.Unlock()
		return
	}
	interval := AdaptiveInterval(time.Duration(snap.NotificationInterval)*time.Second, ep.notificationCount)
	if now.Sub(ep.lastNotification) < interval {
		e.mu.Unlock()
		return
	}

	ep.notificationCount++
	ep.lastNotification = now
	msg := e.ongoingMessage(streamID, result.Confidence, now, ep)
	e.mu.Unlock()
	e.dispatch(msg, result.FrameData)
}

// AdaptiveInterval grows the minimum alert spacing by 50% per already
// sent notification, capped at 30 minutes.
func AdaptiveInterval(base time.Duration, notificationCount int) time.Duration {
	interval := time.Duration(float64(base) * (1 + float64(notificationCount)*0.5))
	if interval > maxAdaptiveInterval {
		interval = maxAdaptiveInterval
	}
	return interval
}

// OpenEpisodes reports how many streams are currently IN_EVENT.
func (e *Engine) OpenEpisodes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.episodes)
}

// Flush blocks until all in-flight sends have completed.
func (e *Engine) Flush() {
	e.wg.Wait()
}

// dispatch sends asynchronously so a slow transport cannot stall the
// detection path. Failures are logged and swallowed.
func (e *Engine) dispatch(message, thumbnail string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.transport.Send(message, thumbnail); err != nil {
			logger.Warn("Notify", "send failed: %v", err)
			return
		}
		if e.metrics != nil {
			e.metrics.NotificationsSent.Add(1)
		}
	}()
}

func (e *Engine) ongoingMessage(streamID string, confidence float64, now time.Time, ep *episode) string {
	var header string
	switch ep.notificationCount {
	case 0:
		header = "🚨 <b>Violence Detection Started</b>"
	case 1:
		header = "⚠️ <b>Violence Continues</b>"
	default:
		header = "🔄 <b>Violence Ongoing</b>"
	}
	return fmt.Sprintf(
		"%s\n\n📹 Stream: %s\n🎯 Current Confidence: %.2f%%\n📊 Max Confidence: %.2f%%\n⏱️ Duration: %ds\n🔔 Notification #%d\n🕐 Time: %s",
		header,
		streamID,
		confidence*100,
		ep.maxConfidence*100,
		int(now.Sub(ep.startTime).Seconds()),
		ep.notificationCount+1,
		now.Format("2006-01-02 15:04:05"),
	)
}

func (e *Engine) endedMessage(streamID string, duration time.Duration, ep *episode) string {
	return fmt.Sprintf(
		"✅ <b>Violence Event Ended</b>\n\n📹 Stream: %s\n⏱️ Total Duration: %ds\n📊 Max Confidence: %.2f%%\n🔔 Total Notifications: %d\n🕐 Ended: %s",
		streamID,
		int(duration.Seconds()),
		ep.maxConfidence*100,
		ep.notificationCount+1,
		e.now().Format("2006-01-02 15:04:05"),
	)
}
