// Package timemap maps destination (timeline) sample ticks to source sample
// ticks for one timeline segment, encoding speed, reverse, trim, and loop
// semantics.
//
// A TimeMap is an immutable value. Mapping rounds half away from zero once
// per destination tick and never accumulates, so results are independent of
// call order.
package timemap

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tonewood/tonewood/internal/clock"
)

// ReverseMode selects how a reversed segment is rendered.
//
// Rough and HighQuality are declared for forward compatibility but both
// currently behave as Mute: no reverse playback algorithm is specified yet.
type ReverseMode int

const (
	// ReverseOff plays the segment forward.
	ReverseOff ReverseMode = iota
	// ReverseMute maps reversed ticks but renders silence.
	ReverseMute
	// ReverseRough is a placeholder for a cheap reverse algorithm.
	ReverseRough
	// ReverseHighQuality is a placeholder for an exact reverse algorithm.
	ReverseHighQuality
)

// String returns the canonical name used in serialized graphs.
func (m ReverseMode) String() string {
	switch m {
	case ReverseOff:
		return "off"
	case ReverseMute:
		return "mute"
	case ReverseRough:
		return "rough"
	case ReverseHighQuality:
		return "high-quality"
	default:
		return fmt.Sprintf("reverse(%d)", int(m))
	}
}

// ParseReverseMode decodes the canonical name of a ReverseMode.
func ParseReverseMode(s string) (ReverseMode, error) {
	switch s {
	case "off":
		return ReverseOff, nil
	case "mute":
		return ReverseMute, nil
	case "rough":
		return ReverseRough, nil
	case "high-quality":
		return ReverseHighQuality, nil
	default:
		return 0, fmt.Errorf("timemap: unknown reverse mode %q", s)
	}
}

// MarshalJSON encodes the mode as its canonical name.
func (m ReverseMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes the canonical name.
func (m *ReverseMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseReverseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Range is a half-open [In, Out) range in source sample space.
type Range struct {
	In  clock.SampleTick `json:"in"`
	Out clock.SampleTick `json:"out"`
}

// Len returns the range length in samples, zero for inverted ranges.
func (r Range) Len() int64 {
	if r.Out <= r.In {
		return 0
	}
	return int64(r.Out - r.In)
}

// Contains reports whether tick falls inside the half-open range.
func (r Range) Contains(tick clock.SampleTick) bool {
	return tick >= r.In && tick < r.Out
}

// TimeMap describes one segment's forward mapping from timeline ticks to
// source ticks. The zero value maps nothing; construct with New.
type TimeMap struct {
	SampleRate       int              `json:"sampleRate"`
	TimelineStart    clock.SampleTick `json:"timelineStart"`
	TimelineDuration int64            `json:"timelineDuration"`
	SourceIn         clock.SampleTick `json:"sourceIn"`
	SourceTrim       *Range           `json:"sourceTrim,omitempty"`
	Speed            float64          `json:"speed"`
	Reverse          ReverseMode      `json:"reverse"`
	LoopRange        *Range           `json:"loopRange,omitempty"`
}

// New validates and returns a TimeMap. Speed must be positive and finite,
// the duration non-negative, and the sample rate positive; invalid parameter
// combinations are rejected here so they never reach the realtime path.
func New(m TimeMap) (TimeMap, error) {
	if m.SampleRate <= 0 {
		return TimeMap{}, fmt.Errorf("timemap: invalid sample rate %d", m.SampleRate)
	}
	if m.TimelineDuration < 0 {
		return TimeMap{}, fmt.Errorf("timemap: negative duration %d", m.TimelineDuration)
	}
	if m.Speed <= 0 || math.IsInf(m.Speed, 0) || math.IsNaN(m.Speed) {
		return TimeMap{}, fmt.Errorf("timemap: invalid speed %v", m.Speed)
	}
	if m.LoopRange != nil && m.LoopRange.Len() == 0 {
		return TimeMap{}, fmt.Errorf("timemap: empty loop range [%d, %d)", m.LoopRange.In, m.LoopRange.Out)
	}
	return m, nil
}

// SourceTick maps a destination tick to a source tick.
// The second return is false when the destination tick is outside the
// segment, or the mapped tick is excluded by the source trim. Callers decide
// mute policy; "no result" is never silently zero.
func (m TimeMap) SourceTick(destTick clock.SampleTick) (clock.SampleTick, bool) {
	rel := int64(destTick - m.TimelineStart)
	if rel < 0 || rel >= m.TimelineDuration {
		return 0, false
	}

	if m.Reverse != ReverseOff {
		// Exact off-by-one mirror: destination 0 maps to the last source
		// sample of the segment, destination D-1 maps to SourceIn.
		rel = m.TimelineDuration - 1 - rel
	}

	src := int64(m.SourceIn) + roundHalfAwayFromZero(m.Speed*float64(rel))

	if m.LoopRange != nil {
		length := m.LoopRange.Len()
		offset := ((src-int64(m.LoopRange.In))%length + length) % length
		src = int64(m.LoopRange.In) + offset
	}

	tick := clock.SampleTick(src)
	if m.SourceTrim != nil && !m.SourceTrim.Contains(tick) {
		return 0, false
	}
	return tick, true
}

// ApplyingSlip returns a copy with SourceIn shifted by offsetSamples.
// All other fields are unchanged; this is the non-destructive slip edit.
func (m TimeMap) ApplyingSlip(offsetSamples int64) TimeMap {
	out := m
	out.SourceIn += clock.SampleTick(offsetSamples)
	return out
}

func roundHalfAwayFromZero(x float64) int64 {
	return int64(math.Round(x))
}
