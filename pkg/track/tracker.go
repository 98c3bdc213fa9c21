package track

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/atomflow-dev/atomflow/pkg/atom"
)

// TrackerConfig controls how lifecycle status is derived.
type TrackerConfig struct {
	// IdleThreshold is the idle time after which an atom is idle.
	IdleThreshold time.Duration

	// StaleThreshold is the idle time after which an atom is stale.
	StaleThreshold time.Duration

	// DefaultTTL is applied to newly tracked atoms. Zero means no TTL;
	// SetTTL overrides per atom.
	DefaultTTL time.Duration

	// ReferenceCounting requires a zero reference count for gc
	// eligibility. When false, refcounts are recorded but ignored.
	ReferenceCounting bool
}

// DefaultTrackerConfig returns the standard thresholds: idle after one
// minute, stale after five, no TTL, reference counting off.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		IdleThreshold:  time.Minute,
		StaleThreshold: 5 * time.Minute,
	}
}

// Tracker maintains the lifecycle ledger for monitored atoms and emits the
// lifecycle event stream. It implements atom.Observer; register it on a
// store to feed access and change events automatically.
type Tracker struct {
	mu        sync.RWMutex
	entries   map[atom.ID]*entry
	cfg       TrackerConfig
	listeners map[uint64]EventListener
	nextLID   uint64
	logger    *slog.Logger
	now       func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerConfig sets the lifecycle thresholds.
func WithTrackerConfig(cfg *TrackerConfig) TrackerOption {
	return func(t *Tracker) {
		if cfg != nil {
			t.cfg = *cfg
		}
	}
}

// WithTrackerLogger sets the tracker's logger. Defaults to slog.Default.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithTrackerClock overrides the tracker's time source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker with default thresholds.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		entries:   make(map[atom.ID]*entry),
		cfg:       *DefaultTrackerConfig(),
		listeners: make(map[uint64]EventListener),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "tracker")
	return t
}

// Track creates a ledger entry for the atom with zero counters and active
// status. Tracking an already-tracked atom refreshes lastSeen and is
// otherwise a no-op.
func (t *Tracker) Track(a atom.AnyAtom, name string) {
	if name == "" {
		name = a.Name()
	}
	id := a.AtomID()
	now := t.now()

	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		e.lastSeen = now
		t.mu.Unlock()
		return
	}
	t.entries[id] = &entry{
		id:           id,
		name:         name,
		createdAt:    now,
		firstSeen:    now,
		lastSeen:     now,
		lastAccessed: now,
		ttl:          t.cfg.DefaultTTL,
		subscribers:  make(map[uint64]struct{}),
	}
	t.mu.Unlock()

	t.emit(Event{Type: EventTrack, AtomID: id, Name: name, Time: now})
}

// Untrack removes the atom's ledger entry. Reports whether it existed.
func (t *Tracker) Untrack(id atom.ID) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if ok {
		t.emit(Event{Type: EventUntrack, AtomID: id, Name: e.name, Time: t.now()})
	}
	return ok
}

// AtomAccessed implements atom.Observer: tracked atoms get their access
// counter and lastAccessed updated; untracked atoms are ignored.
func (t *Tracker) AtomAccessed(id atom.ID) {
	now := t.now()

	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.accessCount++
	e.lastAccessed = now
	e.lastSeen = now
	name := e.name
	t.mu.Unlock()

	t.emit(Event{Type: EventAccess, AtomID: id, Name: name, Time: now})
}

// AtomChanged implements atom.Observer: tracked atoms get their change
// counter and lastChanged updated.
func (t *Tracker) AtomChanged(id atom.ID) {
	now := t.now()

	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.changeCount++
	e.lastChanged = now
	e.lastSeen = now
	name := e.name
	t.mu.Unlock()

	t.emit(Event{Type: EventChange, AtomID: id, Name: name, Time: now})
}

// Retain increments the atom's reference count.
func (t *Tracker) Retain(id atom.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.refCount++
	}
}

// Release decrements the atom's reference count, never below zero.
func (t *Tracker) Release(id atom.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok && e.refCount > 0 {
		e.refCount--
	}
}

// AddSubscriber records a subscriber identifier on the atom's ledger.
func (t *Tracker) AddSubscriber(id atom.ID, subID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.subscribers[subID] = struct{}{}
	}
}

// RemoveSubscriber removes a subscriber identifier from the ledger.
func (t *Tracker) RemoveSubscriber(id atom.ID, subID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		delete(e.subscribers, subID)
	}
}

// SetTTL overrides the atom's time-to-live. Zero disables it.
func (t *Tracker) SetTTL(id atom.ID, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.ttl = ttl
	}
}

// Get returns a snapshot of one tracked atom.
func (t *Tracker) Get(id atom.ID) (TrackedAtom, bool) {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return TrackedAtom{}, false
	}
	return t.snapshotLocked(e, now), true
}

// Snapshot returns point-in-time copies of every ledger entry, ordered by
// atom ID for deterministic iteration.
func (t *Tracker) Snapshot() []TrackedAtom {
	now := t.now()
	t.mu.RLock()
	out := make([]TrackedAtom, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, t.snapshotLocked(e, now))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracked atoms.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear removes every ledger entry and emits a clear event.
func (t *Tracker) Clear() {
	t.mu.Lock()
	n := len(t.entries)
	t.entries = make(map[atom.ID]*entry)
	t.mu.Unlock()

	if n > 0 {
		t.logger.Info("tracker cleared", "atoms", n)
	}
	t.emit(Event{Type: EventClear, Time: t.now()})
}

// Subscribe registers a lifecycle event listener and returns a function
// that removes it.
func (t *Tracker) Subscribe(fn EventListener) (cancel func()) {
	t.mu.Lock()
	t.nextLID++
	lid := t.nextLID
	t.listeners[lid] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, lid)
		t.mu.Unlock()
	}
}

// restore re-creates a ledger entry from an archived snapshot. The entry
// comes back active: lastAccessed is reset to now.
func (t *Tracker) restore(snap TrackedAtom) {
	now := t.now()

	t.mu.Lock()
	e := &entry{
		id:           snap.ID,
		name:         snap.Name,
		createdAt:    snap.CreatedAt,
		firstSeen:    snap.FirstSeen,
		lastSeen:     now,
		lastAccessed: now,
		lastChanged:  snap.LastChanged,
		accessCount:  snap.AccessCount,
		changeCount:  snap.ChangeCount,
		ttl:          snap.TTL,
		refCount:     snap.RefCount,
		subscribers:  make(map[uint64]struct{}),
	}
	for _, sid := range snap.SubscriberIDs {
		e.subscribers[sid] = struct{}{}
	}
	t.entries[snap.ID] = e
	t.mu.Unlock()

	t.emit(Event{Type: EventRestore, AtomID: snap.ID, Name: snap.Name, Time: now})
}

// remove deletes an entry on behalf of the cleanup engine and returns its
// final snapshot stamped with the given status.
func (t *Tracker) remove(id atom.ID, status Status) (TrackedAtom, bool) {
	now := t.now()

	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return TrackedAtom{}, false
	}
	delete(t.entries, id)
	snap := t.snapshotLocked(e, now)
	t.mu.Unlock()

	snap.Status = status
	snap.GCEligible = false
	return snap, true
}

// snapshotLocked builds a snapshot with derived status and eligibility.
func (t *Tracker) snapshotLocked(e *entry, now time.Time) TrackedAtom {
	idle := now.Sub(e.lastAccessed)
	status := t.statusFor(e, idle)

	eligible := status == StatusIdle || status == StatusStale
	if t.cfg.ReferenceCounting && e.refCount > 0 {
		eligible = false
	}

	subs := make([]uint64, 0, len(e.subscribers))
	for sid := range e.subscribers {
		subs = append(subs, sid)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })

	return TrackedAtom{
		ID:            e.id,
		Name:          e.name,
		Status:        status,
		CreatedAt:     e.createdAt,
		FirstSeen:     e.firstSeen,
		LastSeen:      e.lastSeen,
		LastAccessed:  e.lastAccessed,
		LastChanged:   e.lastChanged,
		AccessCount:   e.accessCount,
		ChangeCount:   e.changeCount,
		IdleTime:      idle,
		TTL:           e.ttl,
		RefCount:      e.refCount,
		GCEligible:    eligible,
		SubscriberIDs: subs,
	}
}

// statusFor derives the lifecycle status from idle time. TTL expiry and
// the stale threshold both produce stale; the idle threshold produces
// idle; otherwise the atom is active.
func (t *Tracker) statusFor(e *entry, idle time.Duration) Status {
	if e.ttl > 0 && idle >= e.ttl {
		return StatusStale
	}
	if t.cfg.StaleThreshold > 0 && idle >= t.cfg.StaleThreshold {
		return StatusStale
	}
	if t.cfg.IdleThreshold > 0 && idle >= t.cfg.IdleThreshold {
		return StatusIdle
	}
	return StatusActive
}

// emit delivers an event to every listener outside the tracker lock.
func (t *Tracker) emit(ev Event) {
	t.mu.RLock()
	listeners := make([]EventListener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
