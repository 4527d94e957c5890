// Package project models the timeline snapshot an editor hands to the
// audio engine: tracks of clips with gains, pans, fades, and retimes.
// Lowering turns a snapshot into an audio graph; the snapshot itself never
// reaches the realtime path.
package project

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Project is one timeline snapshot.
type Project struct {
	// Name identifies the project in logs and dumps.
	Name string `yaml:"name"`

	// SampleRate is the engine rate in Hz. Defaults to 48000.
	SampleRate int `yaml:"sampleRate,omitempty"`

	// Tracks in mix order. Track names must be unique; lowering derives
	// deterministic node IDs from them.
	Tracks []Track `yaml:"tracks"`
}

// Track is one mixer lane.
type Track struct {
	Name string `yaml:"name"`

	// Gain is the track fader, linear. Defaults to 1.
	Gain *float64 `yaml:"gain,omitempty"`

	// Pan is the stereo balance in [-1, 1]. Defaults to 0.
	Pan float64 `yaml:"pan,omitempty"`

	// Mute silences the track without removing it from the graph.
	Mute bool `yaml:"mute,omitempty"`

	// Meter adds a meter tap after the track's pan stage.
	Meter bool `yaml:"meter,omitempty"`

	Clips []Clip `yaml:"clips"`
}

// Clip is one media segment placed on the timeline.
type Clip struct {
	// ID identifies the clip; unique within its track.
	ID string `yaml:"id"`

	// Asset names the media the clip plays.
	Asset string `yaml:"asset"`

	// FormatHint optionally tells the source binder what to expect.
	FormatHint string `yaml:"formatHint,omitempty"`

	// Start and Duration place the clip on the timeline, in seconds.
	Start    float64 `yaml:"start"`
	Duration float64 `yaml:"duration"`

	// SourceIn is the in-point inside the asset, in seconds.
	SourceIn float64 `yaml:"sourceIn,omitempty"`

	// Speed is the retime factor. Defaults to 1.
	Speed float64 `yaml:"speed,omitempty"`

	// Reverse selects reverse playback: off, mute, rough, high-quality.
	Reverse string `yaml:"reverse,omitempty"`

	// Gain is the clip gain, linear. Defaults to 1.
	Gain *float64 `yaml:"gain,omitempty"`

	// FadeIn and FadeOut are fade lengths in seconds.
	FadeIn  float64 `yaml:"fadeIn,omitempty"`
	FadeOut float64 `yaml:"fadeOut,omitempty"`

	// FadeShape selects the fade curve: linear or equalPower.
	FadeShape string `yaml:"fadeShape,omitempty"`
}

// Load reads and parses a project YAML file. Unknown fields are rejected
// so typos fail loudly instead of silently dropping settings.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("project: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a project snapshot.
func Parse(data []byte) (*Project, error) {
	var p Project
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("project: parse: %w", err)
	}
	if p.SampleRate == 0 {
		p.SampleRate = 48000
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks snapshot consistency before lowering.
func (p *Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("project: missing name")
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("project: invalid sample rate %d", p.SampleRate)
	}
	if len(p.Tracks) == 0 {
		return fmt.Errorf("project: no tracks")
	}

	seenTracks := make(map[string]bool, len(p.Tracks))
	for _, track := range p.Tracks {
		if track.Name == "" {
			return fmt.Errorf("project: track without a name")
		}
		if seenTracks[track.Name] {
			return fmt.Errorf("project: duplicate track name %q", track.Name)
		}
		seenTracks[track.Name] = true

		if track.Pan < -1 || track.Pan > 1 {
			return fmt.Errorf("project: track %q pan %v outside [-1, 1]", track.Name, track.Pan)
		}
		if track.Gain != nil && *track.Gain < 0 {
			return fmt.Errorf("project: track %q negative gain %v", track.Name, *track.Gain)
		}

		seenClips := make(map[string]bool, len(track.Clips))
		for _, clip := range track.Clips {
			if err := clip.validate(track.Name); err != nil {
				return err
			}
			if seenClips[clip.ID] {
				return fmt.Errorf("project: track %q has duplicate clip %q", track.Name, clip.ID)
			}
			seenClips[clip.ID] = true
		}
	}
	return nil
}

func (c Clip) validate(trackName string) error {
	if c.ID == "" || c.Asset == "" {
		return fmt.Errorf("project: track %q has a clip missing id or asset", trackName)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("project: clip %q duration %v must be positive", c.ID, c.Duration)
	}
	if c.Start < 0 || c.SourceIn < 0 {
		return fmt.Errorf("project: clip %q has a negative time", c.ID)
	}
	if c.Speed < 0 {
		return fmt.Errorf("project: clip %q negative speed %v", c.ID, c.Speed)
	}
	if c.Gain != nil && *c.Gain < 0 {
		return fmt.Errorf("project: clip %q negative gain %v", c.ID, *c.Gain)
	}
	if c.FadeIn < 0 || c.FadeOut < 0 {
		return fmt.Errorf("project: clip %q negative fade", c.ID)
	}
	switch c.FadeShape {
	case "", "linear", "equalPower":
	default:
		return fmt.Errorf("project: clip %q unknown fade shape %q", c.ID, c.FadeShape)
	}
	return nil
}
