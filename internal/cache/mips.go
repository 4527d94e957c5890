package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Bin is one waveform overview bucket.
type Bin struct {
	Peak float32
	RMS  float32
}

// Mip is one resolution level of a waveform overview. Level 0 is the
// finest; each level above it doubles FramesPerBin.
type Mip struct {
	Level        int
	FramesPerBin int
	Bins         []Bin
}

// BuildMips reduces interleaved samples to a waveform overview pyramid.
// Level 0 summarizes baseFramesPerBin frames per bin; each further level
// halves the resolution. All channels fold into one bin, matching how
// editors draw a single waveform per clip.
func BuildMips(samples []float32, channels, baseFramesPerBin, levels int) ([]Mip, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("cache: invalid channel count %d", channels)
	}
	if baseFramesPerBin <= 0 || levels <= 0 {
		return nil, fmt.Errorf("cache: invalid mip shape %d frames/bin, %d levels", baseFramesPerBin, levels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("cache: sample length %d not divisible by %d channels", len(samples), channels)
	}

	frames := len(samples) / channels
	mips := make([]Mip, 0, levels)
	framesPerBin := baseFramesPerBin
	for level := 0; level < levels; level++ {
		binCount := (frames + framesPerBin - 1) / framesPerBin
		bins := make([]Bin, binCount)
		for b := range bins {
			startFrame := b * framesPerBin
			endFrame := min(startFrame+framesPerBin, frames)
			window := samples[startFrame*channels : endFrame*channels]

			peak := 0.0
			sumSquares := 0.0
			for _, s := range window {
				v := float64(s)
				if a := math.Abs(v); a > peak {
					peak = a
				}
				sumSquares += v * v
			}
			bins[b] = Bin{
				Peak: float32(peak),
				RMS:  float32(math.Sqrt(sumSquares / float64(len(window)))),
			}
		}
		mips = append(mips, Mip{Level: level, FramesPerBin: framesPerBin, Bins: bins})
		framesPerBin *= 2
	}
	return mips, nil
}

// PutMips stores a waveform overview pyramid for a key, one row per level.
func (s *Store) PutMips(ctx context.Context, key Key, mips []Mip) error {
	addr, err := key.Address()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: put mips: %w", err)
	}
	defer tx.Rollback()

	for _, mip := range mips {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO waveform_mips (key, level, frames_per_bin, bins)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key, level) DO NOTHING
		`, addr, mip.Level, mip.FramesPerBin, encodeBins(mip.Bins))
		if err != nil {
			return fmt.Errorf("cache: put mip level %d: %w", mip.Level, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: put mips: %w", err)
	}

	s.log.WithFields(logrus.Fields{"key": addr[:16], "levels": len(mips)}).Debug("cached waveform mips")
	return nil
}

// Mips loads the waveform overview pyramid for a key, finest level first.
// The second return is false when no levels are stored.
func (s *Store) Mips(ctx context.Context, key Key) ([]Mip, bool, error) {
	addr, err := key.Address()
	if err != nil {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT level, frames_per_bin, bins FROM waveform_mips
		WHERE key = ? ORDER BY level
	`, addr)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("cache: read mips: %w", err)
	}
	defer rows.Close()

	var mips []Mip
	for rows.Next() {
		var mip Mip
		var blob []byte
		if err := rows.Scan(&mip.Level, &mip.FramesPerBin, &blob); err != nil {
			return nil, false, fmt.Errorf("cache: read mips: %w", err)
		}
		mip.Bins, err = decodeBins(blob)
		if err != nil {
			return nil, false, err
		}
		mips = append(mips, mip)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("cache: read mips: %w", err)
	}
	if len(mips) == 0 {
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return mips, true, nil
}

func encodeBins(bins []Bin) []byte {
	out := make([]byte, 8*len(bins))
	for i, b := range bins {
		binary.LittleEndian.PutUint32(out[8*i:], math.Float32bits(b.Peak))
		binary.LittleEndian.PutUint32(out[8*i+4:], math.Float32bits(b.RMS))
	}
	return out
}

func decodeBins(blob []byte) ([]Bin, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("cache: bin blob length %d not a multiple of 8", len(blob))
	}
	bins := make([]Bin, len(blob)/8)
	for i := range bins {
		bins[i].Peak = math.Float32frombits(binary.LittleEndian.Uint32(blob[8*i:]))
		bins[i].RMS = math.Float32frombits(binary.LittleEndian.Uint32(blob[8*i+4:]))
	}
	return bins, nil
}
