package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/tonewood/tonewood/internal/clock"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (pcm_segments, waveform_mips)
const currentSchemaVersion = 1

// Store is the SQLite-backed artifact cache. Control context only; the
// realtime path never touches it.
type Store struct {
	db  *sql.DB
	log *logrus.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Open creates or opens the cache database at path. ":memory:" gives an
// ephemeral cache for tests.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// SQLite supports a single writer, so the connection pool is capped at
// one connection.
func Open(path string, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", path).Debug("audio cache opened")
	return &Store{db: db, log: log}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("cache: execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("cache: apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("cache: set user_version: %w", err)
	}
	return nil
}

// PutSegment stores a rendered PCM segment. Writes are idempotent: keys
// are content-derived, so a conflicting row necessarily holds identical
// samples and the insert becomes a no-op.
func (s *Store) PutSegment(ctx context.Context, key Key, start clock.SampleTick, samples []float32) error {
	addr, err := key.Address()
	if err != nil {
		return err
	}
	if len(samples)%key.Format.Channels != 0 {
		return fmt.Errorf("cache: segment length %d not divisible by %d channels", len(samples), key.Format.Channels)
	}

	frames := len(samples) / key.Format.Channels
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pcm_segments (key, start_tick, channels, frame_count, samples)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key, start_tick) DO NOTHING
	`, addr, int64(start), key.Format.Channels, frames, encodeSamples(samples))
	if err != nil {
		return fmt.Errorf("cache: put segment: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"key":    addr[:16],
		"start":  int64(start),
		"frames": frames,
	}).Debug("cached pcm segment")
	return nil
}

// Segment loads a PCM segment. The second return is false on a miss.
func (s *Store) Segment(ctx context.Context, key Key, start clock.SampleTick) ([]float32, bool, error) {
	addr, err := key.Address()
	if err != nil {
		return nil, false, err
	}

	var blob []byte
	var channels, frames int
	err = s.db.QueryRowContext(ctx, `
		SELECT channels, frame_count, samples FROM pcm_segments
		WHERE key = ? AND start_tick = ?
	`, addr, int64(start)).Scan(&channels, &frames, &blob)
	if err == sql.ErrNoRows {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: read segment: %w", err)
	}

	samples, err := decodeSamples(blob)
	if err != nil {
		return nil, false, err
	}
	if len(samples) != frames*channels {
		return nil, false, fmt.Errorf("cache: segment %s at %d: blob holds %d samples, row claims %d", addr[:16], start, len(samples), frames*channels)
	}
	s.hits.Add(1)
	return samples, true, nil
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Snapshot reads the hit/miss counters.
func (s *Store) Snapshot() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// Sample blobs are packed little-endian float32; the byte order is pinned
// so database files transfer between platforms.

func encodeSamples(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}

func decodeSamples(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("cache: sample blob length %d not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return out, nil
}
