package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vdetect/streamguard/internal/hub"
	"github.com/vdetect/streamguard/internal/notify"
	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/internal/stream"
	"github.com/vdetect/streamguard/pkg/types"
)

type captureSub struct {
	mu  sync.Mutex
	got []types.Message
}

func (c *captureSub) ID() string { return "test" }

func (c *captureSub) Send(msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, msg)
	return nil
}

func (c *captureSub) Close() error { return nil }

func (c *captureSub) byType(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.got {
		if m.Type == kind {
			n++
		}
	}
	return n
}

func (c *captureSub) firstDetection() (types.DetectionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.got {
		if m.Type == types.MessageDetection {
			r, ok := m.Data.(types.DetectionResult)
			return r, ok
		}
	}
	return types.DetectionResult{}, false
}

type nullTransport struct{}

func (nullTransport) Send(message, thumbnail string) error { return nil }

func TestRunBroadcastsStatus(t *testing.T) {
	sets, err := settings.NewStore(settings.Default())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	registry := stream.NewRegistry(sets, nil)
	if err := registry.Add("cam1", "http://example/stream", "one"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	h := hub.New(nil)
	sub := &captureSub{}
	h.Connect(sub)

	engine := notify.NewEngine(sets, nil, nullTransport{})
	o := New(registry, h, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sub.byType(types.MessageStatus) < 2 {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if got := sub.byType(types.MessageStatus); got < 2 {
		t.Fatalf("received %d status broadcasts, want >= 2", got)
	}
	if got := sub.byType(types.MessageDetection); got != 0 {
		t.Errorf("received %d detection broadcasts from idle streams, want 0", got)
	}
}

// mjpegStub serves an endless MJPEG stream of one test frame.
func mjpegStub(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil); err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	frame := buf.Bytes()

	const boundary = "frameboundary"
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
		flusher, _ := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame))
			if _, err := w.Write(frame); err != nil {
				return
			}
			fmt.Fprint(w, "\r\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

// inferenceStub always classifies the window as violence (~0.90).
func inferenceStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v2/models/violence_model/versions/1/infer", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{"outputs":[{"name":"output","data":[0,2.2]}]}`))
	})
	return httptest.NewServer(mux)
}

func TestRunPumpsDetectionResults(t *testing.T) {
	video := mjpegStub(t)
	defer video.Close()
	backend := inferenceStub(t)
	defer backend.Close()

	s := settings.Default()
	s.BufferSize = 2
	s.FrameSkip = 1
	s.InferenceURL = backend.URL
	s.Telegram.BotToken = "token"
	s.Telegram.ChatID = "chat"
	s.Telegram.Enabled = true
	sets, err := settings.NewStore(s)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	registry := stream.NewRegistry(sets, nil)
	if err := registry.Add("cam1", video.URL, "one"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := registry.Start("cam1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer registry.StopAll()

	h := hub.New(nil)
	sub := &captureSub{}
	h.Connect(sub)

	engine := notify.NewEngine(sets, nil, nullTransport{})
	o := New(registry, h, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if sub.byType(types.MessageDetection) >= 1 && engine.OpenEpisodes() == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	result, ok := sub.firstDetection()
	if !ok {
		t.Fatal("no detection_result broadcast reached the subscriber")
	}
	if result.StreamID != "cam1" || !result.IsViolence {
		t.Errorf("broadcast result = %+v, want violence on cam1", result)
	}
	if result.Confidence <= 0.7 {
		t.Errorf("confidence = %v, want > 0.7", result.Confidence)
	}
	if got := engine.OpenEpisodes(); got != 1 {
		t.Errorf("OpenEpisodes() = %d, want 1 opened by the pumped result", got)
	}
}
