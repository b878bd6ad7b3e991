// Package event provides the discrete-event scheduler that drives the
// satellite MAC and PHY models.
package event

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Scheduler schedules callbacks at simulation times. The MAC, PHY and beam
// scheduler depend on it; the main loop owns the concrete Simulator.
type Scheduler interface {
	// Schedule registers f to run at simulation time at and returns an
	// opaque id for Cancel. Callbacks for the same time run in the order
	// they were scheduled.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending event. Unknown ids and events that already ran
	// are ignored.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time
}

const idPrefix = "ev-"

type entry struct {
	at  time.Time
	seq uint64
	fn  func()
}

func compareEntries(a, b entry) int {
	if c := a.at.Compare(b.at); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// Simulator is a Scheduler that owns the simulation clock. The clock only
// moves forward: to each event as it runs, or to an explicit instant given
// to AdvanceTo or RunUntil.
type Simulator struct {
	mu       sync.Mutex
	now      time.Time
	seq      uint64
	executed uint64

	// queue is sorted by (at, seq).
	queue   []entry
	pending map[uint64]time.Time
}

// NewSimulator returns a simulator whose clock reads start.
func NewSimulator(start time.Time) *Simulator {
	return &Simulator{now: start, pending: make(map[uint64]time.Time)}
}

// Schedule implements Scheduler. An event in the past runs on the next
// RunDue, AdvanceTo or RunUntil without moving the clock back.
func (s *Simulator) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e := entry{at: at, seq: s.seq, fn: f}
	i, _ := slices.BinarySearchFunc(s.queue, e, compareEntries)
	s.queue = slices.Insert(s.queue, i, e)
	s.pending[e.seq] = at
	return idPrefix + strconv.FormatUint(e.seq, 10)
}

// Cancel implements Scheduler.
func (s *Simulator) Cancel(id string) {
	seq, err := strconv.ParseUint(strings.TrimPrefix(id, idPrefix), 10, 64)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.pending[seq]
	if !ok {
		return
	}
	delete(s.pending, seq)
	if i, found := slices.BinarySearchFunc(s.queue, entry{at: at, seq: seq}, compareEntries); found {
		s.queue = slices.Delete(s.queue, i, i+1)
	}
}

// Now implements Scheduler.
func (s *Simulator) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of events waiting to run.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Executed returns the number of callbacks run so far.
func (s *Simulator) Executed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

// RunDue runs every event due at the current time, including the ones those
// callbacks schedule for the current time.
func (s *Simulator) RunDue() { s.drain(s.Now()) }

// AdvanceTo moves the clock to t and runs what is due. An earlier t leaves
// the clock where it is.
func (s *Simulator) AdvanceTo(t time.Time) {
	s.mu.Lock()
	if t.After(s.now) {
		s.now = t
	}
	limit := s.now
	s.mu.Unlock()

	s.drain(limit)
}

// RunUntil runs events in time order up to and including end, jumping the
// clock to each one, and leaves the clock at end. It returns the number of
// callbacks run.
func (s *Simulator) RunUntil(end time.Time) int {
	n := s.drain(end)

	s.mu.Lock()
	if end.After(s.now) {
		s.now = end
	}
	s.mu.Unlock()
	return n
}

func (s *Simulator) drain(limit time.Time) int {
	n := 0
	for {
		fn, ok := s.next(limit)
		if !ok {
			return n
		}
		// Callbacks run unlocked so they can schedule and cancel.
		if fn != nil {
			fn()
		}
		n++
	}
}

// next pops the earliest event due at or before limit and moves the clock to
// it.
func (s *Simulator) next(limit time.Time) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 || s.queue[0].at.After(limit) {
		return nil, false
	}
	e := s.queue[0]
	s.queue[0] = entry{}
	s.queue = s.queue[1:]
	delete(s.pending, e.seq)

	if e.at.After(s.now) {
		s.now = e.at
	}
	s.executed++
	return e.fn, true
}
