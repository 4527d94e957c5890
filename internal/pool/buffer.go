// Package pool lends preallocated, fixed-capacity audio buffers to the
// realtime rendering path.
//
// All storage is allocated at construction. Borrow and Recycle touch only
// atomics and preallocated memory: no allocation, no locks, no blocking,
// whichever execution context calls them. On exhaustion Borrow degrades to
// a shared zero-length buffer and counts an underflow instead of failing;
// the realtime callback must never see an error from its buffer supply.
package pool

// Buffer is fixed-capacity interleaved sample storage with a current frame
// count. A buffer is owned exclusively by whoever holds its lease; owner-
// ship returns to the pool on Recycle.
type Buffer struct {
	data     []float32
	channels int
	capacity int // frames
	frames   int
}

// Channels returns the channel count.
func (b *Buffer) Channels() int { return b.channels }

// Frames returns the current frame count.
func (b *Buffer) Frames() int { return b.frames }

// Capacity returns the fixed capacity in frames.
func (b *Buffer) Capacity() int { return b.capacity }

// Samples returns the interleaved samples for the current frame count.
func (b *Buffer) Samples() []float32 {
	return b.data[:b.frames*b.channels]
}

// SetFrames sets the current frame count, clamped to capacity.
func (b *Buffer) SetFrames(frames int) {
	if frames < 0 {
		frames = 0
	}
	if frames > b.capacity {
		frames = b.capacity
	}
	b.frames = frames
}

// CopyFrom copies as many frames from src as fit; both buffers must share
// a channel count. Returns the frames copied.
func (b *Buffer) CopyFrom(src *Buffer) int {
	if src == nil || src.channels != b.channels {
		return 0
	}
	frames := min(src.frames, b.capacity)
	copy(b.data[:frames*b.channels], src.data[:frames*src.channels])
	b.frames = frames
	return frames
}
