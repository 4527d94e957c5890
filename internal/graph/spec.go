package graph

import (
	"fmt"
	"math"

	"github.com/tonewood/tonewood/internal/timemap"
)

// Kind names a node spec variant in serialized graphs.
type Kind string

const (
	KindSource      Kind = "source"
	KindTimeMap     Kind = "timeMap"
	KindGain        Kind = "gain"
	KindPan         Kind = "pan"
	KindFade        Kind = "fade"
	KindBus         Kind = "bus"
	KindMeterTap    Kind = "meterTap"
	KindAnalyzerTap Kind = "analyzerTap"
)

// NodeSpec is the sealed union of processing node payloads.
// Only the Spec types in this file implement it, which lets the compiler
// and the runtime factory match exhaustively. Specs are immutable values;
// equality and hashing are structural, over the canonical form.
type NodeSpec interface {
	// Kind returns the variant tag used in serialized graphs.
	Kind() Kind

	// Validate rejects invalid parameters at the API boundary, before the
	// spec can reach compilation or the realtime path.
	Validate() error

	// canonicalFields returns the spec's fields for canonical JSON.
	// The "kind" key is added by the envelope.
	canonicalFields() map[string]any

	nodeSpec() // sealed
}

// SourceSpec reads samples from an external media asset.
// Binding to an actual decoder happens at compile time through the binder
// capability; the spec itself is pure description.
type SourceSpec struct {
	ClipID     string `json:"clipId"`
	AssetID    string `json:"assetId"`
	FormatHint string `json:"formatHint,omitempty"`
}

func (SourceSpec) Kind() Kind { return KindSource }
func (SourceSpec) nodeSpec()  {}

func (s SourceSpec) Validate() error {
	if s.ClipID == "" || s.AssetID == "" {
		return fmt.Errorf("graph: source node requires clipId and assetId")
	}
	return nil
}

func (s SourceSpec) canonicalFields() map[string]any {
	f := map[string]any{
		"clipId":  s.ClipID,
		"assetId": s.AssetID,
	}
	if s.FormatHint != "" {
		f["formatHint"] = s.FormatHint
	}
	return f
}

// TimeMapSpec retimes its input through a segment time map.
type TimeMapSpec struct {
	Map timemap.TimeMap `json:"map"`
}

func (TimeMapSpec) Kind() Kind { return KindTimeMap }
func (TimeMapSpec) nodeSpec()  {}

func (s TimeMapSpec) Validate() error {
	_, err := timemap.New(s.Map)
	return err
}

func (s TimeMapSpec) canonicalFields() map[string]any {
	m := map[string]any{
		"sampleRate":       int64(s.Map.SampleRate),
		"timelineStart":    int64(s.Map.TimelineStart),
		"timelineDuration": s.Map.TimelineDuration,
		"sourceIn":         int64(s.Map.SourceIn),
		"speed":            s.Map.Speed,
		"reverse":          s.Map.Reverse.String(),
	}
	if s.Map.SourceTrim != nil {
		m["sourceTrim"] = map[string]any{
			"in":  int64(s.Map.SourceTrim.In),
			"out": int64(s.Map.SourceTrim.Out),
		}
	}
	if s.Map.LoopRange != nil {
		m["loopRange"] = map[string]any{
			"in":  int64(s.Map.LoopRange.In),
			"out": int64(s.Map.LoopRange.Out),
		}
	}
	return map[string]any{"map": m}
}

// GainSpec scales its input by a linear factor.
type GainSpec struct {
	Gain float64 `json:"gain"`
}

func (GainSpec) Kind() Kind { return KindGain }
func (GainSpec) nodeSpec()  {}

func (s GainSpec) Validate() error {
	if !isFinite(s.Gain) {
		return fmt.Errorf("graph: non-finite gain %v", s.Gain)
	}
	return nil
}

func (s GainSpec) canonicalFields() map[string]any {
	return map[string]any{"gain": s.Gain}
}

// PanSpec places its input in the stereo field; -1 is hard left, +1 hard
// right, 0 center.
type PanSpec struct {
	Pan float64 `json:"pan"`
}

func (PanSpec) Kind() Kind { return KindPan }
func (PanSpec) nodeSpec()  {}

func (s PanSpec) Validate() error {
	if !isFinite(s.Pan) || s.Pan < -1 || s.Pan > 1 {
		return fmt.Errorf("graph: pan %v outside [-1, 1]", s.Pan)
	}
	return nil
}

func (s PanSpec) canonicalFields() map[string]any {
	return map[string]any{"pan": s.Pan}
}

// FadeKind distinguishes fade-in from fade-out.
type FadeKind string

const (
	FadeIn  FadeKind = "in"
	FadeOut FadeKind = "out"
)

// FadeShape selects the fade curve.
type FadeShape string

const (
	FadeLinear     FadeShape = "linear"
	FadeEqualPower FadeShape = "equalPower"
)

// FadeSpec applies a fade envelope over a fixed number of samples at the
// start (in) or end (out) of its input.
type FadeSpec struct {
	FadeKind        FadeKind  `json:"fadeKind"`
	DurationSamples int64     `json:"durationSamples"`
	Shape           FadeShape `json:"shape"`
}

func (FadeSpec) Kind() Kind { return KindFade }
func (FadeSpec) nodeSpec()  {}

func (s FadeSpec) Validate() error {
	if s.FadeKind != FadeIn && s.FadeKind != FadeOut {
		return fmt.Errorf("graph: unknown fade kind %q", s.FadeKind)
	}
	if s.Shape != FadeLinear && s.Shape != FadeEqualPower {
		return fmt.Errorf("graph: unknown fade shape %q", s.Shape)
	}
	if s.DurationSamples < 0 {
		return fmt.Errorf("graph: negative fade duration %d", s.DurationSamples)
	}
	return nil
}

func (s FadeSpec) canonicalFields() map[string]any {
	return map[string]any{
		"fadeKind":        string(s.FadeKind),
		"durationSamples": s.DurationSamples,
		"shape":           string(s.Shape),
	}
}

// BusSpec sums its ordered inputs into a named mix bus.
type BusSpec struct {
	BusID string `json:"busId"`
	Role  string `json:"role,omitempty"`
}

func (BusSpec) Kind() Kind { return KindBus }
func (BusSpec) nodeSpec()  {}

func (s BusSpec) Validate() error {
	if s.BusID == "" {
		return fmt.Errorf("graph: bus node requires busId")
	}
	return nil
}

func (s BusSpec) canonicalFields() map[string]any {
	f := map[string]any{"busId": s.BusID}
	if s.Role != "" {
		f["role"] = s.Role
	}
	return f
}

// MeterTapSpec passes audio through unchanged while exposing block peak and
// RMS meters to the control context.
type MeterTapSpec struct{}

func (MeterTapSpec) Kind() Kind                      { return KindMeterTap }
func (MeterTapSpec) nodeSpec()                       {}
func (MeterTapSpec) Validate() error                 { return nil }
func (MeterTapSpec) canonicalFields() map[string]any { return map[string]any{} }

// AnalyzerTapSpec passes audio through unchanged while accumulating samples
// for control-context spectrum analysis.
type AnalyzerTapSpec struct{}

func (AnalyzerTapSpec) Kind() Kind                      { return KindAnalyzerTap }
func (AnalyzerTapSpec) nodeSpec()                       {}
func (AnalyzerTapSpec) Validate() error                 { return nil }
func (AnalyzerTapSpec) canonicalFields() map[string]any { return map[string]any{} }

// SpecEqual reports structural (value) equality of two specs by comparing
// canonical bytes, never identity.
func SpecEqual(a, b NodeSpec) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	ab, err := MarshalCanonical(specEnvelope(a))
	if err != nil {
		return false
	}
	bb, err := MarshalCanonical(specEnvelope(b))
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

// SpecCanonical returns the canonical map form of a spec, kind tag
// included, ready for MarshalCanonical.
func SpecCanonical(s NodeSpec) map[string]any {
	return specEnvelope(s)
}

// specEnvelope returns the canonical map form of a spec, kind tag included.
func specEnvelope(s NodeSpec) map[string]any {
	f := s.canonicalFields()
	f["kind"] = string(s.Kind())
	return f
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
