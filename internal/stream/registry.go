package stream

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/internal/metrics"
	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/pkg/types"
)

// Registry-level failures, surfaced synchronously to the caller.
var (
	ErrExists   = errors.New("stream already exists")
	ErrNotFound = errors.New("stream not found")
)

// drainPerStream caps how many pending results one stream contributes
// per drain cycle.
const drainPerStream = 10

// Registry owns the set of stream processors.
type Registry struct {
	sets    *settings.Store
	metrics *metrics.Metrics

	mu      sync.RWMutex
	streams map[string]*Processor

	// newProcessor is swappable for tests.
	newProcessor func(id, url, name string) *Processor
}

// NewRegistry creates an empty registry.
func NewRegistry(sets *settings.Store, m *metrics.Metrics) *Registry {
	r := &Registry{
		sets:    sets,
		metrics: m,
		streams: make(map[string]*Processor),
	}
	r.newProcessor = func(id, url, name string) *Processor {
		return NewProcessor(Config{ID: id, URL: url, Name: name, Settings: sets, Metrics: m})
	}
	return r
}

// Add registers a new stream. The stream starts stopped.
func (r *Registry) Add(id, url, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	r.streams[id] = r.newProcessor(id, url, name)
	if r.metrics != nil {
		r.metrics.TotalStreams.Store(uint64(len(r.streams)))
	}
	logger.Info("Registry", "Added stream %s -> %s", id, url)
	return nil
}

// Remove stops the stream if running, then deletes it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	p, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
		if r.metrics != nil {
			r.metrics.TotalStreams.Store(uint64(len(r.streams)))
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_ = p.Stop()
	logger.Info("Registry", "Removed stream %s", id)
	return nil
}

// Start delegates to the stream's processor.
func (r *Registry) Start(id string) error {
	p, ok := r.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.Start()
}

// Stop delegates to the stream's processor.
func (r *Registry) Stop(id string) error {
	p, ok := r.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.Stop()
}

// Get returns the processor for one stream.
func (r *Registry) Get(id string) (*Processor, bool) {
	return r.get(id)
}

func (r *Registry) get(id string) (*Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.streams[id]
	return p, ok
}

// ListStatus returns a snapshot per registered stream, ordered by id.
func (r *Registry) ListStatus() []types.StreamStatus {
	r.mu.RLock()
	procs := make([]*Processor, 0, len(r.streams))
	for _, p := range r.streams {
		procs = append(procs, p)
	}
	r.mu.RUnlock()

	statuses := make([]types.StreamStatus, 0, len(procs))
	for _, p := range procs {
		statuses = append(statuses, p.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// ActiveCount reports how many streams are currently running.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.streams {
		if p.IsRunning() {
			n++
		}
	}
	return n
}

// Count reports how many streams are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// DrainResults pulls pending detection results across all streams,
// merged and sorted by timestamp descending.
func (r *Registry) DrainResults() []types.DetectionResult {
	r.mu.RLock()
	procs := make([]*Processor, 0, len(r.streams))
	for _, p := range r.streams {
		procs = append(procs, p)
	}
	r.mu.RUnlock()

	var all []types.DetectionResult
	for _, p := range procs {
		all = append(all, p.DrainResults(drainPerStream)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })
	return all
}

// StopAll stops every stream; used on shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	procs := make([]*Processor, 0, len(r.streams))
	for _, p := range r.streams {
		procs = append(procs, p)
	}
	r.mu.RUnlock()

	for _, p := range procs {
		_ = p.Stop()
	}
}
