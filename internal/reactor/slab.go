package reactor

import "github.com/yourusername/voltaic/internal/conn"

// Handle is a stable, generation-tagged reference a worker task holds
// across a submit/run cycle. Deref returns (nil, false) once the slab
// slot has moved on to a new occupant (or become empty), which is what
// makes "timer closed the connection while a worker held a handle"
// structurally impossible: the worker checks the generation instead of
// trusting a raw pointer, per spec.md §9's Design Notes option (a).
type Handle struct {
	index      int
	generation uint32
}

type slabEntry struct {
	conn       *conn.Conn
	generation uint32
	occupied   bool
	nextFree   int // index of next free slot, or -1
}

// Slab is the reactor-exclusive table of live connections. Only the
// reactor goroutine ever calls Insert, Remove, or Deref — workers never
// touch the slab at all; they receive a bare *conn.Conn up front and
// report completion back through a result channel the reactor goroutine
// drains, so a worker can never observe Insert's slice growth racing a
// concurrent Deref.
type Slab struct {
	entries  []slabEntry
	freeHead int
}

// NewSlab returns an empty Slab.
func NewSlab() *Slab {
	return &Slab{freeHead: -1}
}

// Insert adds c to the slab and returns a Handle to it.
func (s *Slab) Insert(c *conn.Conn) Handle {
	if s.freeHead == -1 {
		idx := len(s.entries)
		s.entries = append(s.entries, slabEntry{conn: c, occupied: true, generation: 1})
		return Handle{index: idx, generation: 1}
	}
	idx := s.freeHead
	e := &s.entries[idx]
	s.freeHead = e.nextFree
	e.conn = c
	e.occupied = true
	e.generation++
	return Handle{index: idx, generation: e.generation}
}

// Remove evicts the entry at h.index, bumping its generation so any
// outstanding Handle for it becomes stale. A no-op if h is already
// stale.
func (s *Slab) Remove(h Handle) {
	if h.index < 0 || h.index >= len(s.entries) {
		return
	}
	e := &s.entries[h.index]
	if !e.occupied || e.generation != h.generation {
		return
	}
	e.conn = nil
	e.occupied = false
	e.nextFree = s.freeHead
	s.freeHead = h.index
}

// Deref resolves h to its live *conn.Conn, or (nil, false) if the
// handle has gone stale (the connection was removed, possibly
// replaced, since the handle was issued).
func (s *Slab) Deref(h Handle) (*conn.Conn, bool) {
	if h.index < 0 || h.index >= len(s.entries) {
		return nil, false
	}
	e := &s.entries[h.index]
	if !e.occupied || e.generation != h.generation {
		return nil, false
	}
	return e.conn, true
}

// Len reports how many entries are currently occupied.
func (s *Slab) Len() int {
	n := 0
	for _, e := range s.entries {
		if e.occupied {
			n++
		}
	}
	return n
}
