// Package clock converts between host time, timeline seconds, and integer
// sample ticks at the engine's fixed internal sample rate.
//
// All graph timing is expressed in SampleTick internally; seconds are an
// editing convenience converted at the boundary. Conversions are pure
// functions and round half away from zero exactly once per conversion,
// never accumulating error, so repeated round-trips are stable.
package clock

import (
	"fmt"
	"math"
)

// SampleTick counts samples since the engine epoch at the internal rate.
type SampleTick int64

// DefaultSampleRate is the engine's internal sample rate in Hz.
const DefaultSampleRate = 48000

const nanosPerSecond = 1e9

// Clock performs pure time conversions at a fixed sample rate.
// The zero value is invalid; construct with New.
type Clock struct {
	sampleRate int
}

// New returns a Clock at the given sample rate.
// Rates that are zero or negative are rejected before they can reach the
// realtime path.
func New(sampleRate int) (Clock, error) {
	if sampleRate <= 0 {
		return Clock{}, fmt.Errorf("clock: invalid sample rate %d", sampleRate)
	}
	return Clock{sampleRate: sampleRate}, nil
}

// MustNew is like New but panics on error. Use only with constant rates.
func MustNew(sampleRate int) Clock {
	c, err := New(sampleRate)
	if err != nil {
		panic(err)
	}
	return c
}

// SampleRate returns the clock's sample rate in Hz.
func (c Clock) SampleRate() int {
	return c.sampleRate
}

// ToTick converts timeline seconds to a sample tick.
// Negative seconds clamp to tick 0: the timeline has no samples before its
// epoch.
func (c Clock) ToTick(seconds float64) SampleTick {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return SampleTick(roundHalfAwayFromZero(seconds * float64(c.sampleRate)))
}

// ToSeconds converts a sample tick to timeline seconds.
func (c Clock) ToSeconds(tick SampleTick) float64 {
	return float64(tick) / float64(c.sampleRate)
}

// HostTimeToTick converts an absolute host timestamp (nanoseconds) to a
// sample tick, anchored at a known (hostTime, tick) correspondence pair.
// The anchor is typically captured when the audio device starts.
func (c Clock) HostTimeToTick(hostTimeNanos, anchorHostTimeNanos int64, anchorTick SampleTick) SampleTick {
	elapsed := float64(hostTimeNanos-anchorHostTimeNanos) / nanosPerSecond
	return anchorTick + SampleTick(roundHalfAwayFromZero(elapsed*float64(c.sampleRate)))
}

// TickToHostTime is the inverse of HostTimeToTick for the same anchor pair.
func (c Clock) TickToHostTime(tick SampleTick, anchorHostTimeNanos int64, anchorTick SampleTick) int64 {
	elapsed := float64(tick-anchorTick) / float64(c.sampleRate)
	return anchorHostTimeNanos + int64(roundHalfAwayFromZero(elapsed*nanosPerSecond))
}

// roundHalfAwayFromZero rounds once, half away from zero. This is the single
// rounding policy for the whole engine; math.Round implements exactly this
// tie-breaking rule.
func roundHalfAwayFromZero(x float64) int64 {
	return int64(math.Round(x))
}
