// Package orchestrator pumps detection results into the broadcast hub,
// the notification engine and the event store at a fixed cadence.
package orchestrator

import (
	"context"
	"time"

	"github.com/vdetect/streamguard/internal/hub"
	"github.com/vdetect/streamguard/internal/logger"
	"github.com/vdetect/streamguard/internal/notify"
	"github.com/vdetect/streamguard/internal/store"
	"github.com/vdetect/streamguard/internal/stream"
	"github.com/vdetect/streamguard/pkg/types"
)

const (
	cycleInterval = 100 * time.Millisecond
	errorSleep    = time.Second
)

// Orchestrator is the single pump loop between the per-stream workers
// and the outbound surfaces.
type Orchestrator struct {
	registry *stream.Registry
	hub      *hub.Hub
	engine   *notify.Engine
	store    *store.Store // optional; nil disables persistence
}

// New wires an orchestrator.
func New(registry *stream.Registry, h *hub.Hub, engine *notify.Engine, st *store.Store) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		hub:      h,
		engine:   engine,
		store:    st,
	}
}

// Run loops until the context is cancelled. A failure inside one cycle
// is recovered, logged and followed by a short sleep; the loop itself
// never terminates on a transient error.
func (o *Orchestrator) Run(ctx context.Context) {
	logger.Info("Orchestrator", "Started (cadence %v)", cycleInterval)

	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Orchestrator", "Stopped")
			return
		case <-ticker.C:
		}

		if !o.cycle() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorSleep):
			}
		}
	}
}

// cycle runs one drain/broadcast pass; it reports false when the pass
// panicked.
func (o *Orchestrator) cycle() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Orchestrator", "Cycle failure: %v", r)
			ok = false
		}
	}()

	for _, result := range o.registry.DrainResults() {
		o.hub.Broadcast(types.Message{Type: types.MessageDetection, Data: result})
		o.engine.OnDetection(result)
		o.persist(result)
	}

	o.hub.Broadcast(types.Message{Type: types.MessageStatus, Data: o.registry.ListStatus()})
	return true
}

// persist is fire-and-forget: store failures are logged and swallowed,
// never surfaced to the detection path.
func (o *Orchestrator) persist(result types.DetectionResult) {
	if o.store == nil || !result.IsViolence {
		return
	}
	if err := o.store.SaveDetection(result); err != nil {
		logger.Warn("Orchestrator", "Persist detection for %s failed: %v", result.StreamID, err)
	}
}
