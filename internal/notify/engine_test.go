package notify

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/pkg/types"
)

type recordingTransport struct {
	mu       sync.Mutex
	messages []string
	thumbs   []string
}

func (r *recordingTransport) Send(message, thumbnail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.thumbs = append(r.thumbs, thumbnail)
	return nil
}

func (r *recordingTransport) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func notifySettings(t *testing.T, maxNotifications int) *settings.Store {
	t.Helper()
	s := settings.Default()
	s.Telegram.BotToken = "token"
	s.Telegram.ChatID = "chat"
	s.Telegram.Enabled = true
	s.Telegram.MaxNotifications = maxNotifications
	st, err := settings.NewStore(s)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st
}

// testEngine returns an engine on a controllable clock.
func testEngine(t *testing.T, maxNotifications int) (*Engine, *recordingTransport, *time.Time) {
	t.Helper()
	transport := &recordingTransport{}
	e := NewEngine(notifySettings(t, maxNotifications), nil, transport)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	return e, transport, &clock
}

func detection(streamID string, violence bool, confidence float64) types.DetectionResult {
	return types.DetectionResult{
		StreamID:   streamID,
		IsViolence: violence,
		Confidence: confidence,
		FrameData:  "dGh1bWI=",
	}
}

func TestEpisodeLifecycle(t *testing.T) {
	e, transport, clock := testEngine(t, 5)

	// First violence opens an episode and alerts immediately.
	e.OnDetection(detection("cam1", true, 0.80))
	e.Flush()
	sent := transport.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "Violence Detection Started") {
		t.Fatalf("after open: %q, want one started alert", sent)
	}
	if e.OpenEpisodes() != 1 {
		t.Fatalf("OpenEpisodes() = %d, want 1", e.OpenEpisodes())
	}

	// Base interval elapsed: one continuing alert.
	*clock = clock.Add(301 * time.Second)
	e.OnDetection(detection("cam1", true, 0.85))
	e.Flush()
	sent = transport.sent()
	if len(sent) != 2 || !strings.Contains(sent[1], "Violence Continues") {
		t.Fatalf("after continue: %q, want continuing alert", sent)
	}

	// Widened interval (450s after one sent alert) not yet elapsed.
	*clock = clock.Add(19 * time.Second)
	e.OnDetection(detection("cam1", true, 0.70))
	e.Flush()
	if got := transport.sent(); len(got) != 2 {
		t.Fatalf("suppressed alert leaked: %q", got)
	}

	// Non-violence closes the episode and reports the peak confidence.
	*clock = clock.Add(80 * time.Second)
	e.OnDetection(detection("cam1", false, 0.10))
	e.Flush()
	sent = transport.sent()
	if len(sent) != 3 {
		t.Fatalf("after end: %d alerts, want 3", len(sent))
	}
	if !strings.Contains(sent[2], "Violence Event Ended") {
		t.Errorf("end alert = %q", sent[2])
	}
	if !strings.Contains(sent[2], "85.00%") {
		t.Errorf("end alert missing max confidence: %q", sent[2])
	}
	if e.OpenEpisodes() != 0 {
		t.Errorf("OpenEpisodes() = %d after end, want 0", e.OpenEpisodes())
	}
}

func TestNotificationCap(t *testing.T) {
	e, transport, clock := testEngine(t, 2)

	e.OnDetection(detection("cam1", true, 0.9))
	for i := 0; i < 5; i++ {
		*clock = clock.Add(time.Hour)
		e.OnDetection(detection("cam1", true, 0.9))
	}
	e.Flush()

	// One opening alert plus at most MaxNotifications throttled ones.
	if got := len(transport.sent()); got != 3 {
		t.Fatalf("sent %d alerts, want 3 (open + cap of 2)", got)
	}
}

func TestNonViolenceWhileIdleIsNoop(t *testing.T) {
	e, transport, _ := testEngine(t, 5)
	e.OnDetection(detection("cam1", false, 0.1))
	e.Flush()
	if got := transport.sent(); len(got) != 0 {
		t.Fatalf("idle non-violence produced alerts: %q", got)
	}
}

func TestFlappingReopensWithoutCooldown(t *testing.T) {
	e, transport, clock := testEngine(t, 5)

	e.OnDetection(detection("cam1", true, 0.9))
	*clock = clock.Add(time.Second)
	e.OnDetection(detection("cam1", false, 0.1))
	*clock = clock.Add(time.Second)
	e.OnDetection(detection("cam1", true, 0.9))
	e.Flush()

	sent := transport.sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d alerts, want started/ended/started", len(sent))
	}
	if !strings.Contains(sent[2], "Violence Detection Started") {
		t.Errorf("reopen alert = %q, want fresh started alert", sent[2])
	}
}

func TestEpisodesAreIndependentPerStream(t *testing.T) {
	e, transport, _ := testEngine(t, 5)

	e.OnDetection(detection("cam1", true, 0.9))
	e.OnDetection(detection("cam2", true, 0.8))
	e.Flush()

	if e.OpenEpisodes() != 2 {
		t.Fatalf("OpenEpisodes() = %d, want 2", e.OpenEpisodes())
	}
	if got := len(transport.sent()); got != 2 {
		t.Fatalf("sent %d alerts, want one per stream", got)
	}
}

func TestDisabledTransportSilent(t *testing.T) {
	transport := &recordingTransport{}
	st, err := settings.NewStore(settings.Default())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	e := NewEngine(st, nil, transport)

	e.OnDetection(detection("cam1", true, 0.99))
	e.Flush()
	if len(transport.sent()) != 0 {
		t.Fatal("disabled engine sent alerts")
	}
	if e.OpenEpisodes() != 0 {
		t.Fatal("disabled engine tracked episodes")
	}
}

func TestAdaptiveInterval(t *testing.T) {
	cases := []struct {
		count int
		want  time.Duration
	}{
		{0, 300 * time.Second},
		{1, 450 * time.Second},
		{2, 600 * time.Second},
		{10, 1800 * time.Second},
		{100, 1800 * time.Second},
	}
	for _, tc := range cases {
		if got := AdaptiveInterval(300*time.Second, tc.count); got != tc.want {
			t.Errorf("AdaptiveInterval(300s, %d) = %v, want %v", tc.count, got, tc.want)
		}
	}
}
