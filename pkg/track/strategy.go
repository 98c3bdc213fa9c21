package track

import (
	"sort"
	"sync"
	"time"
)

// Strategy ranks tracked atoms for reclamation. Implementations are pure
// over the given snapshot list and must ignore non-eligible atoms entirely,
// even when explicitly passed in.
type Strategy interface {
	// Name identifies the strategy in logs, stats, and metrics.
	Name() string

	// SelectCandidates returns up to count gc-eligible atoms in the order
	// they should be reclaimed (highest priority first).
	SelectCandidates(atoms []TrackedAtom, count int) []TrackedAtom

	// Priority scores one atom; higher means sooner reclamation.
	Priority(a TrackedAtom) float64
}

// eligible filters a snapshot list down to gc-eligible atoms.
func eligible(atoms []TrackedAtom) []TrackedAtom {
	out := make([]TrackedAtom, 0, len(atoms))
	for _, a := range atoms {
		if a.GCEligible {
			out = append(out, a)
		}
	}
	return out
}

func capped(atoms []TrackedAtom, count int) []TrackedAtom {
	if count < 0 {
		count = 0
	}
	if len(atoms) > count {
		atoms = atoms[:count]
	}
	return atoms
}

// LRU reclaims the least recently used atoms first.
type LRU struct{}

func (LRU) Name() string { return "lru" }

// SelectCandidates returns the count eligible atoms with the smallest
// lastAccessed, ascending.
func (LRU) SelectCandidates(atoms []TrackedAtom, count int) []TrackedAtom {
	c := eligible(atoms)
	sort.Slice(c, func(i, j int) bool {
		return c[i].LastAccessed.Before(c[j].LastAccessed)
	})
	return capped(c, count)
}

func (LRU) Priority(a TrackedAtom) float64 {
	return -float64(a.LastAccessed.UnixNano())
}

// LFU reclaims the least frequently used atoms first.
type LFU struct{}

func (LFU) Name() string { return "lfu" }

// SelectCandidates returns the count eligible atoms with the smallest
// accessCount, ascending. Ties break on older lastAccessed.
func (LFU) SelectCandidates(atoms []TrackedAtom, count int) []TrackedAtom {
	c := eligible(atoms)
	sort.Slice(c, func(i, j int) bool {
		if c[i].AccessCount != c[j].AccessCount {
			return c[i].AccessCount < c[j].AccessCount
		}
		return c[i].LastAccessed.Before(c[j].LastAccessed)
	})
	return capped(c, count)
}

func (LFU) Priority(a TrackedAtom) float64 {
	return -float64(a.AccessCount)
}

// FIFO reclaims the oldest-created atoms first, ignoring access recency.
type FIFO struct{}

func (FIFO) Name() string { return "fifo" }

// SelectCandidates returns the count eligible atoms with the smallest
// createdAt, ascending.
func (FIFO) SelectCandidates(atoms []TrackedAtom, count int) []TrackedAtom {
	c := eligible(atoms)
	sort.Slice(c, func(i, j int) bool {
		return c[i].CreatedAt.Before(c[j].CreatedAt)
	})
	return capped(c, count)
}

func (FIFO) Priority(a TrackedAtom) float64 {
	return -float64(a.CreatedAt.UnixNano())
}

// TimeBased reclaims atoms that have outlived their TTL, most overdue
// first. The reference time is settable for deterministic tests.
type TimeBased struct {
	// TTL is the fallback time-to-live for atoms without their own.
	TTL time.Duration

	mu      sync.Mutex
	refTime time.Time
}

// NewTimeBased creates a time-based strategy with the given fallback TTL.
func NewTimeBased(ttl time.Duration) *TimeBased {
	return &TimeBased{TTL: ttl}
}

func (s *TimeBased) Name() string { return "time-based" }

// SetReferenceTime pins the strategy's notion of now. The zero time
// reverts to the wall clock.
func (s *TimeBased) SetReferenceTime(t time.Time) {
	s.mu.Lock()
	s.refTime = t
	s.mu.Unlock()
}

func (s *TimeBased) referenceTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.refTime.IsZero() {
		return s.refTime
	}
	return time.Now()
}

// overage is how far past its TTL the atom has gone. Positive means
// expired, negative means still valid.
func (s *TimeBased) overage(a TrackedAtom, ref time.Time) time.Duration {
	ttl := a.TTL
	if ttl <= 0 {
		ttl = s.TTL
	}
	return ref.Sub(a.LastAccessed) - ttl
}

// SelectCandidates returns eligible atoms whose TTL has elapsed, ordered
// most overdue first.
func (s *TimeBased) SelectCandidates(atoms []TrackedAtom, count int) []TrackedAtom {
	ref := s.referenceTime()
	c := make([]TrackedAtom, 0, len(atoms))
	for _, a := range eligible(atoms) {
		if s.overage(a, ref) > 0 {
			c = append(c, a)
		}
	}
	sort.Slice(c, func(i, j int) bool {
		return s.overage(c[i], ref) > s.overage(c[j], ref)
	})
	return capped(c, count)
}

func (s *TimeBased) Priority(a TrackedAtom) float64 {
	return s.overage(a, s.referenceTime()).Seconds()
}
