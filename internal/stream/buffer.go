package stream

import (
	"sync"

	"github.com/vdetect/streamguard/pkg/types"
)

// FrameBuffer is a thread-safe sliding window of normalized frames.
// It is written by the owning capture loop and read by the detection
// loop; all operations copy under one lock so hold time stays bounded.
type FrameBuffer struct {
	mu     sync.Mutex
	frames []*types.Frame
}

// NewFrameBuffer returns an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Push appends a frame, then trims to the most recent capacity entries.
// Capacity is passed per call because it is a live setting.
func (b *FrameBuffer) Push(f *types.Frame, capacity int) {
	if capacity < 1 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, f)
	if len(b.frames) > capacity {
		trimmed := make([]*types.Frame, capacity)
		copy(trimmed, b.frames[len(b.frames)-capacity:])
		b.frames = trimmed
	}
}

// Snapshot returns a copy of the most recent full window, or nil if the
// buffer does not yet hold capacity frames. The copy decouples the
// reader from the concurrently writing capture loop.
func (b *FrameBuffer) Snapshot(capacity int) []*types.Frame {
	if capacity < 1 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) < capacity {
		return nil
	}
	window := make([]*types.Frame, capacity)
	copy(window, b.frames[len(b.frames)-capacity:])
	return window
}

// Latest returns the newest frame, or nil when empty.
func (b *FrameBuffer) Latest() *types.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return nil
	}
	return b.frames[len(b.frames)-1]
}

// Len reports the current window length.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Clear resets the window on stream (re)start.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}
