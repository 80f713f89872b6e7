package stream

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vdetect/streamguard/internal/capture"
	"github.com/vdetect/streamguard/internal/inference"
	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/internal/metrics"
	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/pkg/types"
)

// Lifecycle states of a stream processor.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	detectionInterval = 100 * time.Millisecond
	inferenceBackoff  = time.Second
	stopTimeout       = 3 * time.Second
	resultQueueSize   = 32
)

// Predictor is the inference collaborator of a detection loop.
type Predictor interface {
	Predict(window []*types.Frame, threshold float64) (bool, float64, error)
	Reset()
}

func defaultPredictor(s settings.Settings) Predictor {
	return inference.NewClient(s.InferenceURL, s.ModelName, s.ModelVersion)
}

// Config wires a Processor to its collaborators. OpenSource and
// NewPredictor have production defaults and exist for tests.
type Config struct {
	ID   string
	URL  string
	Name string

	Settings *settings.Store
	Metrics  *metrics.Metrics

	OpenSource   func(url string) (capture.VideoSource, error)
	NewPredictor func(s settings.Settings) Predictor
}

// Processor owns one stream: its frame buffer, a capture worker, a
// detection worker and the lifecycle state machine tying them together.
type Processor struct {
	id   string
	url  string
	name string

	sets    *settings.Store
	metrics *metrics.Metrics

	openSource   func(url string) (capture.VideoSource, error)
	newPredictor func(s settings.Settings) Predictor

	buffer  *FrameBuffer
	results chan types.DetectionResult

	mu        sync.Mutex // guards lifecycle transitions and handles below
	state     State
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	source    capture.VideoSource
	predictor Predictor

	captureAlive   atomic.Bool
	detectionAlive atomic.Bool

	fpsBits        atomic.Uint64 // math.Float64bits of the instantaneous fps
	totalFrames    atomic.Int64
	detectionCount atomic.Int64
	startNanos     atomic.Int64

	lastMu        sync.Mutex
	lastDetection *types.DetectionResult
}

// NewProcessor creates a stopped processor for one stream.
func NewProcessor(cfg Config) *Processor {
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	p := &Processor{
		id:           cfg.ID,
		url:          cfg.URL,
		name:         name,
		sets:         cfg.Settings,
		metrics:      cfg.Metrics,
		openSource:   cfg.OpenSource,
		newPredictor: cfg.NewPredictor,
		buffer:       NewFrameBuffer(),
		results:      make(chan types.DetectionResult, resultQueueSize),
	}
	if p.openSource == nil {
		p.openSource = capture.Open
	}
	if p.newPredictor == nil {
		p.newPredictor = defaultPredictor
	}
	return p
}

// ID returns the stream id.
func (p *Processor) ID() string { return p.id }

// Start spawns the capture and detection workers. It is a no-op when the
// stream is already running and returns without waiting for the first
// frame; a source connect failure leaves the stream stopped with no
// internal retry.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return nil
	}
	p.state = StateStarting

	snap := p.sets.Snapshot()
	src, err := p.openSource(p.url)
	if err != nil {
		p.state = StateStopped
		logger.Error("Stream", "%s: open source: %v", p.id, err)
		if p.metrics != nil {
			p.metrics.SourceErrors.Add(1)
		}
		return err
	}

	p.buffer.Clear()
	p.fpsBits.Store(0)
	p.totalFrames.Store(0)
	p.detectionCount.Store(0)
	p.setLastDetection(nil)
	p.startNanos.Store(time.Now().UnixNano())

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.source = src
	p.predictor = p.newPredictor(snap)
	p.wg = &sync.WaitGroup{}

	p.captureAlive.Store(true)
	p.detectionAlive.Store(true)
	p.wg.Add(2)
	go p.captureLoop(ctx, src)
	go p.detectionLoop(ctx, p.predictor)

	p.state = StateRunning
	if p.metrics != nil {
		p.metrics.ActiveStreams.Add(1)
	}
	logger.Info("Stream", "%s: started", p.id)
	return nil
}

// Stop raises the shutdown signal, waits a bounded time for both workers
// and force-releases the source regardless of the join outcome. It is
// idempotent; a never-started stream stops as a no-op.
func (p *Processor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return nil
	}
	p.state = StateStopping

	if p.cancel != nil {
		p.cancel()
	}

	if p.wg != nil {
		done := make(chan struct{})
		go func(wg *sync.WaitGroup) {
			wg.Wait()
			close(done)
		}(p.wg)

		select {
		case <-done:
		case <-time.After(stopTimeout):
			// Workers that overrun the timeout are abandoned, not
			// awaited forever; the leak is accepted and logged.
			logger.Warn("Stream", "%s: workers did not exit within %v, abandoning", p.id, stopTimeout)
		}
	}

	if p.source != nil {
		_ = p.source.Close()
		p.source = nil
	}
	if p.predictor != nil {
		p.predictor.Reset()
		p.predictor = nil
	}
	p.captureAlive.Store(false)
	p.detectionAlive.Store(false)

	p.state = StateStopped
	if p.metrics != nil {
		p.metrics.ActiveStreams.Add(^uint64(0))
	}
	logger.Info("Stream", "%s: stopped", p.id)
	return nil
}

// IsRunning is true iff both the capture and detection workers are alive.
func (p *Processor) IsRunning() bool {
	return p.captureAlive.Load() && p.detectionAlive.Load()
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns a point-in-time snapshot of the runtime state.
func (p *Processor) Status() types.StreamStatus {
	fps := math.Float64frombits(p.fpsBits.Load())
	status := types.StreamStatus{
		ID:             p.id,
		URL:            p.url,
		Name:           p.name,
		Enabled:        true,
		IsRunning:      p.IsRunning(),
		FPS:            math.Round(fps*100) / 100,
		TotalFrames:    p.totalFrames.Load(),
		DetectionCount: p.detectionCount.Load(),
		LastDetection:  p.getLastDetection(),
	}
	if nanos := p.startNanos.Load(); nanos > 0 && status.IsRunning {
		started := time.Unix(0, nanos)
		status.StartTime = &started
	}
	return status
}

// LatestFrame exposes the newest buffered frame for live viewers.
func (p *Processor) LatestFrame() *types.Frame {
	return p.buffer.Latest()
}

// DrainResults pulls up to max pending detection results.
func (p *Processor) DrainResults(max int) []types.DetectionResult {
	var out []types.DetectionResult
	for len(out) < max {
		select {
		case r := <-p.results:
			out = append(out, r)
		default:
			return out
		}
	}
	return out
}

func (p *Processor) captureLoop(ctx context.Context, src capture.VideoSource) {
	defer p.wg.Done()
	defer p.captureAlive.Store(false)
	defer src.Close()

	if err := src.Connect(ctx); err != nil {
		logger.Error("Capture", "%s: connect: %v", p.id, err)
		if p.metrics != nil {
			p.metrics.SourceErrors.Add(1)
		}
		return
	}
	logger.Info("Capture", "%s: connected to %s", p.id, p.url)

	lastRead := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		img, err := src.Read()
		if err != nil {
			// A dead source terminates the loop; retry is a caller
			// decision, not an internal one.
			if ctx.Err() == nil {
				logger.Warn("Capture", "%s: read: %v", p.id, err)
				if p.metrics != nil {
					p.metrics.SourceErrors.Add(1)
				}
			}
			return
		}

		now := time.Now()
		if dt := now.Sub(lastRead).Seconds(); dt > 0 {
			p.fpsBits.Store(math.Float64bits(1.0 / dt))
		}
		lastRead = now

		snap := p.sets.Snapshot()
		if p.totalFrames.Load()%int64(snap.FrameSkip) == 0 {
			p.buffer.Push(capture.Normalize(img, now), snap.BufferSize)
			if p.metrics != nil {
				p.metrics.FramesBuffered.Add(1)
			}
		}
		p.totalFrames.Add(1)
		if p.metrics != nil {
			p.metrics.FramesCaptured.Add(1)
		}
	}
}

func (p *Processor) detectionLoop(ctx context.Context, predictor Predictor) {
	defer p.wg.Done()
	defer p.detectionAlive.Store(false)

	ticker := time.NewTicker(detectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := p.sets.Snapshot()
		window := p.buffer.Snapshot(snap.BufferSize)
		if window == nil {
			continue
		}

		started := time.Now()
		isViolence, confidence, err := predictor.Predict(window, snap.ConfidenceThreshold)
		if p.metrics != nil {
			p.metrics.UpdateInferenceLatency(time.Since(started))
		}
		if err != nil {
			// Drop this window, force a reconnect next cycle and back
			// off briefly so an unreachable backend does not spin.
			logger.Warn("Detection", "%s: %v", p.id, err)
			if p.metrics != nil {
				p.metrics.InferenceErrors.Add(1)
			}
			predictor.Reset()
			select {
			case <-ctx.Done():
				return
			case <-time.After(inferenceBackoff):
			}
			continue
		}

		result := types.DetectionResult{
			StreamID:   p.id,
			Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
			IsViolence: isViolence,
			Confidence: confidence,
		}
		if thumb, err := capture.Thumbnail(window[len(window)-1]); err == nil {
			result.FrameData = thumb
		} else {
			logger.Debug("Detection", "%s: thumbnail: %v", p.id, err)
		}

		if p.metrics != nil {
			p.metrics.Detections.Add(1)
		}
		if isViolence {
			p.detectionCount.Add(1)
			p.setLastDetection(&result)
			if p.metrics != nil {
				p.metrics.ViolenceDetections.Add(1)
			}
		}

		p.enqueue(result)
	}
}

// enqueue never blocks the detection loop: when the queue is full the
// oldest pending result is discarded first.
func (p *Processor) enqueue(r types.DetectionResult) {
	for {
		select {
		case p.results <- r:
			return
		default:
		}
		select {
		case <-p.results:
			if p.metrics != nil {
				p.metrics.ResultsDropped.Add(1)
			}
		default:
		}
	}
}

func (p *Processor) setLastDetection(r *types.DetectionResult) {
	p.lastMu.Lock()
	p.lastDetection = r
	p.lastMu.Unlock()
}

func (p *Processor) getLastDetection() *types.DetectionResult {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	return p.lastDetection
}
