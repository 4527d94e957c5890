package pool

import (
	"fmt"
	"math"
	"sync/atomic"
)

// emptySlot marks a lease holding the shared empty buffer.
const emptySlot = math.MaxUint32

// Config sizes a Pool at construction. Everything here is fixed for the
// pool's lifetime.
type Config struct {
	// ChannelCounts lists the supported channel layouts (e.g. 1 and 2).
	ChannelCounts []int

	// BuffersPerChannelCount is how many buffers to preallocate per layout.
	BuffersPerChannelCount int

	// MaxFrames is each buffer's fixed frame capacity.
	MaxFrames int
}

// DefaultConfig covers mono and stereo at typical callback block sizes.
func DefaultConfig() Config {
	return Config{
		ChannelCounts:          []int{1, 2},
		BuffersPerChannelCount: 32,
		MaxFrames:              4096,
	}
}

// slot is one arena entry. next chains the lock-free free list by index;
// nextEnd terminates a chain. next is atomic because Recycle rewrites it
// while a racing Borrow on the same list may still read it; the CAS on the
// list head decides who wins, but the field itself is shared.
type slot struct {
	buf  Buffer
	next atomic.Uint32
	list int32
}

const nextEnd = math.MaxUint32

// freeList is a lock-free LIFO of arena indexes for one channel count.
// head packs a 32-bit generation tag above a 32-bit slot index; the tag
// advances on every successful push or pop, which defuses the ABA problem
// without any locking.
type freeList struct {
	channels int
	head     atomic.Uint64
}

func packHead(tag uint32, index uint32) uint64 {
	return uint64(tag)<<32 | uint64(index)
}

func unpackHead(head uint64) (tag uint32, index uint32) {
	return uint32(head >> 32), uint32(head)
}

// Pool is the preallocated buffer lending arena. Construct with New; the
// zero value has no capacity and always underflows.
type Pool struct {
	arena      []slot
	lists      []freeList
	empty      Buffer
	underflows atomic.Uint64
}

// New preallocates every buffer the pool will ever own.
func New(cfg Config) (*Pool, error) {
	if len(cfg.ChannelCounts) == 0 || cfg.BuffersPerChannelCount <= 0 || cfg.MaxFrames <= 0 {
		return nil, fmt.Errorf("pool: invalid config %+v", cfg)
	}
	for _, ch := range cfg.ChannelCounts {
		if ch <= 0 {
			return nil, fmt.Errorf("pool: invalid channel count %d", ch)
		}
	}

	p := &Pool{
		arena: make([]slot, len(cfg.ChannelCounts)*cfg.BuffersPerChannelCount),
		lists: make([]freeList, len(cfg.ChannelCounts)),
	}
	next := 0
	for li, ch := range cfg.ChannelCounts {
		p.lists[li].channels = ch
		headIdx := uint32(nextEnd)
		for i := 0; i < cfg.BuffersPerChannelCount; i++ {
			idx := uint32(next)
			s := &p.arena[next]
			s.buf = Buffer{
				data:     make([]float32, ch*cfg.MaxFrames),
				channels: ch,
				capacity: cfg.MaxFrames,
			}
			s.list = int32(li)
			s.next.Store(headIdx)
			headIdx = idx
			next++
		}
		p.lists[li].head.Store(packHead(0, headIdx))
	}
	return p, nil
}

// Lease is a borrow token: it carries the buffer and enough identity to
// recycle by arena index rather than pointer comparison.
type Lease struct {
	buf  *Buffer
	pool *Pool
	slot uint32
}

// Buffer returns the leased buffer. For an underflow lease this is the
// pool's shared empty buffer: zero frames, zero capacity, never mutated.
func (l Lease) Buffer() *Buffer { return l.buf }

// Empty reports whether this lease is the shared empty buffer.
func (l Lease) Empty() bool { return l.slot == emptySlot }

// Borrow pops a buffer for the given channel count, zeroes the requested
// frames (clamped to capacity), and transfers ownership to the caller.
//
// On exhaustion, or for an unsupported channel count, it returns the
// shared empty buffer and increments the underflow counter. It never
// allocates, locks, or blocks.
func (p *Pool) Borrow(channels, frames int) Lease {
	list := p.listFor(channels)
	if list == nil {
		p.underflows.Add(1)
		return Lease{buf: &p.empty, pool: p, slot: emptySlot}
	}

	for {
		head := list.head.Load()
		tag, idx := unpackHead(head)
		if idx == nextEnd {
			p.underflows.Add(1)
			return Lease{buf: &p.empty, pool: p, slot: emptySlot}
		}
		next := p.arena[idx].next.Load()
		if list.head.CompareAndSwap(head, packHead(tag+1, next)) {
			buf := &p.arena[idx].buf
			buf.SetFrames(frames)
			zero(buf.data[:buf.frames*buf.channels])
			return Lease{buf: buf, pool: p, slot: idx}
		}
	}
}

// Recycle returns a leased buffer to its free list. Recycling the shared
// empty buffer or a lease from another pool is a no-op, as is the zero
// Lease.
func (p *Pool) Recycle(l Lease) {
	if l.pool != p || l.slot == emptySlot || l.buf == nil {
		return
	}
	idx := l.slot
	if int(idx) >= len(p.arena) {
		return
	}
	list := &p.lists[p.arena[idx].list]
	for {
		head := list.head.Load()
		tag, headIdx := unpackHead(head)
		p.arena[idx].next.Store(headIdx)
		if list.head.CompareAndSwap(head, packHead(tag+1, idx)) {
			return
		}
	}
}

// Stats is an atomically-read snapshot of pool diagnostics.
type Stats struct {
	Underflows uint64
}

// Snapshot reads the diagnostics counters.
func (p *Pool) Snapshot() Stats {
	return Stats{Underflows: p.underflows.Load()}
}

func (p *Pool) listFor(channels int) *freeList {
	// Linear scan: the list count is tiny and fixed, and this avoids a map
	// lookup on the realtime path.
	for i := range p.lists {
		if p.lists[i].channels == channels {
			return &p.lists[i]
		}
	}
	return nil
}

func zero(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
