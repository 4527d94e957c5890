package golden

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// UpdateEnv enables update mode: snapshots are written instead of
// compared. Any non-empty value other than "0" and "false" activates it.
const UpdateEnv = "TONEWOOD_UPDATE_GOLDEN"

func updateMode() bool {
	v := os.Getenv(UpdateEnv)
	return v != "" && v != "0" && v != "false"
}

// Check renders-side verification of one case: summarize samples and
// compare against the snapshot stored under dir, or write it in update
// mode. A missing snapshot in verify mode is a failure, not a skip.
func Check(dir string, c Case, samples []float32) error {
	name, err := c.StableFileName()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name+".golden")
	got := NewSnapshot(c.OutputFormat, samples)

	if updateMode() {
		data, err := got.MarshalDeterministic()
		if err != nil {
			return fmt.Errorf("golden: case %q: %w", c.Name, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("golden: case %q: %w", c.Name, err)
		}
		return os.WriteFile(path, data, 0o644)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("golden: case %q has no snapshot at %s; rerun with %s=1", c.Name, path, UpdateEnv)
	}
	if err != nil {
		return fmt.Errorf("golden: case %q: %w", c.Name, err)
	}
	want, err := UnmarshalSnapshot(data)
	if err != nil {
		return fmt.Errorf("golden: case %q: %w", c.Name, err)
	}
	if !got.Equal(want) {
		return fmt.Errorf("golden: case %q diverged: got hash %016x peak %v rms %v over %d frames, snapshot has hash %016x peak %v rms %v over %d frames",
			c.Name, got.Hash64, got.Stats.Peak, got.Stats.RMS, got.FrameCount,
			want.Hash64, want.Stats.Peak, want.Stats.RMS, want.FrameCount)
	}
	return nil
}

// Assert compares a case's snapshot against testdata fixtures via goldie.
// Regenerate fixtures with: go test ./... -update
func Assert(t *testing.T, c Case, samples []float32) {
	t.Helper()

	name, err := c.StableFileName()
	if err != nil {
		t.Fatalf("golden: %v", err)
	}
	snap := NewSnapshot(c.OutputFormat, samples)
	data, err := snap.MarshalDeterministic()
	if err != nil {
		t.Fatalf("golden: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
