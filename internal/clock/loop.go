package clock

import "fmt"

// LoopClock is a Clock whose output ticks wrap into a configured
// half-open [start, end) range. Both conversion directions wrap
// identically, so the exact loop end maps to the loop start.
type LoopClock struct {
	clock Clock
	start SampleTick
	end   SampleTick
}

// NewLoop returns a LoopClock wrapping ticks into [start, end).
func NewLoop(c Clock, start, end SampleTick) (LoopClock, error) {
	if end <= start {
		return LoopClock{}, fmt.Errorf("clock: empty loop range [%d, %d)", start, end)
	}
	return LoopClock{clock: c, start: start, end: end}, nil
}

// Wrap maps an arbitrary tick into the loop range.
// Ticks before start wrap backward; end itself maps to start.
func (l LoopClock) Wrap(tick SampleTick) SampleTick {
	length := int64(l.end - l.start)
	offset := (int64(tick-l.start)%length + length) % length
	return l.start + SampleTick(offset)
}

// HostTimeToTick converts a host timestamp to a tick wrapped into the loop.
func (l LoopClock) HostTimeToTick(hostTimeNanos, anchorHostTimeNanos int64, anchorTick SampleTick) SampleTick {
	return l.Wrap(l.clock.HostTimeToTick(hostTimeNanos, anchorHostTimeNanos, anchorTick))
}

// TickToHostTime converts a tick to a host timestamp after wrapping it into
// the loop, keeping the two directions consistent at the boundary.
func (l LoopClock) TickToHostTime(tick SampleTick, anchorHostTimeNanos int64, anchorTick SampleTick) int64 {
	return l.clock.TickToHostTime(l.Wrap(tick), anchorHostTimeNanos, anchorTick)
}
