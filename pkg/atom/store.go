package atom

import (
	"log/slog"
	"reflect"
	"sync"
)

// Observer receives access and change notifications from a Store.
// The dependency graph and the lifecycle tracker register themselves as
// observers; there is no ambient global to subscribe through.
type Observer interface {
	// AtomAccessed is called after an atom's value is read.
	AtomAccessed(id ID)

	// AtomChanged is called after an atom's stored value is replaced,
	// once subscriber notification and the single-level dependent cascade
	// have completed.
	AtomChanged(id ID)
}

// Dependent is a computed atom registered as depending on a source atom.
// The graph registers one per (source, computed) edge so that Set can run
// the synchronous single-level cascade without knowing about caches.
type Dependent interface {
	// DependentID returns the computed atom's identity.
	DependentID() ID

	// Recompute produces the dependent's current value from its
	// dependencies. ok is false when evaluation failed and the previous
	// stored value should be kept.
	Recompute() (value any, ok bool)
}

// subscriber is one registered callback on an atom.
type subscriber struct {
	id uint64
	fn func(any)
}

// atomState is the live state for one atom. Exactly one exists per atom
// per store, created lazily on first access. A state may exist solely to
// hold dependent edges before the value is ever materialized; initialized
// distinguishes the two.
type atomState struct {
	value       any
	initialized bool
	subs        []subscriber
	dependents  []Dependent
}

// Store owns the live state of atoms: current values, subscriber lists,
// and dependent sets. A store is safe for concurrent use; each store is
// fully isolated from every other store.
type Store struct {
	mu sync.RWMutex

	// states is a dense arena indexed by atom ID for O(1) lookup.
	// Slot 0 is unused; IDs start at 1.
	states []*atomState

	observers []Observer
	nextSubID uint64
	logger    *slog.Logger
	closed    bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store's logger. Defaults to slog.Default.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "store")
	return s
}

// AddObserver registers an observer for access and change notifications.
func (s *Store) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Get returns the atom's current value, materializing state on first
// access. For derived atoms the read function runs against the store's
// getter; dependency resolution happens as it executes. Panics raised by
// the read function propagate to the caller.
func Get[T any](s *Store, a *Atom[T]) T {
	v, _ := s.value(a).(T)
	return v
}

// Set replaces the atom's value and synchronously notifies subscribers in
// registration order, then recomputes direct dependents (one level), then
// signals observers. Returns ErrNoState if the atom was never materialized
// and ErrReadOnly for derived atoms.
func Set[T any](s *Store, a *Atom[T], value T) error {
	return s.setAny(a, func(any) any { return value })
}

// Update replaces the atom's value by applying fn to the previous value.
// Same failure modes and notification behavior as Set.
func Update[T any](s *Store, a *Atom[T], fn func(T) T) error {
	return s.setAny(a, func(old any) any {
		prev, _ := old.(T)
		return fn(prev)
	})
}

// Subscribe registers a callback invoked with the new value on every
// change, lazily materializing state if absent. The returned function
// removes the callback; it is idempotent, and no notification is delivered
// after it returns.
func Subscribe[T any](s *Store, a *Atom[T], fn func(T)) (unsubscribe func()) {
	return s.subscribeAny(a, func(v any) {
		tv, _ := v.(T)
		fn(tv)
	})
}

// value returns the atom's current value, creating state on first access.
func (s *Store) value(a AnyAtom) any {
	id := a.AtomID()

	s.mu.RLock()
	if st := s.stateLocked(id); st != nil && st.initialized {
		v := st.value
		s.mu.RUnlock()
		s.notifyAccessed(id)
		return v
	}
	s.mu.RUnlock()

	// Materialize outside the lock: derived read functions may re-enter
	// the store through the getter.
	v := a.materialize(s.getter())

	s.mu.Lock()
	st := s.ensureStateLocked(id)
	if !st.initialized {
		st.value = v
		st.initialized = true
	}
	v = st.value
	s.mu.Unlock()

	s.notifyAccessed(id)
	return v
}

// getter returns a Getter resolving atoms against this store.
func (s *Store) getter() Getter {
	return func(a AnyAtom) any {
		return s.value(a)
	}
}

func (s *Store) setAny(a AnyAtom, apply func(old any) any) error {
	if !a.writable() {
		return ErrReadOnly
	}
	id := a.AtomID()

	s.mu.Lock()
	st := s.stateLocked(id)
	if st == nil || !st.initialized {
		s.mu.Unlock()
		return ErrNoState
	}
	newValue := apply(st.value)
	st.value = newValue
	subs := append([]subscriber(nil), st.subs...)
	deps := append([]Dependent(nil), st.dependents...)
	s.mu.Unlock()

	// Synchronous notification, registration order.
	for _, sub := range subs {
		sub.fn(newValue)
	}

	// Single-level cascade: dependents with existing state are recomputed
	// and their subscribers notified when the value actually changed.
	for _, d := range deps {
		s.cascade(d)
	}

	s.notifyChanged(id)
	return nil
}

// cascade recomputes one dependent and stores the result if it changed.
func (s *Store) cascade(d Dependent) {
	depID := d.DependentID()

	s.mu.RLock()
	st := s.stateLocked(depID)
	live := st != nil && st.initialized
	s.mu.RUnlock()
	if !live {
		return
	}

	newValue, ok := d.Recompute()
	if !ok {
		return
	}

	s.mu.Lock()
	st = s.stateLocked(depID)
	if st == nil || !st.initialized {
		s.mu.Unlock()
		return
	}
	changed := !valuesEqual(st.value, newValue)
	var subs []subscriber
	if changed {
		st.value = newValue
		subs = append(subs, st.subs...)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(newValue)
	}
	if changed {
		s.notifyChanged(depID)
	}
}

func (s *Store) subscribeAny(a AnyAtom, fn func(any)) func() {
	// Materialize first so subscription never races initial state creation.
	s.value(a)
	id := a.AtomID()

	s.mu.Lock()
	st := s.stateLocked(id)
	s.nextSubID++
	subID := s.nextSubID
	st.subs = append(st.subs, subscriber{id: subID, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.removeSubscriber(id, subID)
		})
	}
}

// removeSubscriber removes a callback while preserving registration order
// of the remaining subscribers.
func (s *Store) removeSubscriber(id ID, subID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	if st == nil {
		return
	}
	for i, sub := range st.subs {
		if sub.id == subID {
			st.subs = append(st.subs[:i], st.subs[i+1:]...)
			return
		}
	}
}

// AddDependent registers d as a direct dependent of the source atom.
// The source's state slot is created if needed but its value is not
// materialized: registering edges must never evaluate read functions, or
// registering a dependency cycle could recurse without bound.
func (s *Store) AddDependent(source AnyAtom, d Dependent) {
	if d == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensureStateLocked(source.AtomID())
	for _, existing := range st.dependents {
		if existing.DependentID() == d.DependentID() {
			return
		}
	}
	st.dependents = append(st.dependents, d)
}

// RemoveDependent removes the dependent edge source -> dep, if present.
func (s *Store) RemoveDependent(source ID, dep ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(source)
	if st == nil {
		return
	}
	for i, d := range st.dependents {
		if d.DependentID() == dep {
			st.dependents = append(st.dependents[:i], st.dependents[i+1:]...)
			return
		}
	}
}

// Has reports whether the atom has materialized state in this store.
func (s *Store) Has(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stateLocked(id)
	return st != nil && st.initialized
}

// Evict destroys the atom's state and removes it from every dependent set.
// Subscribers of the evicted atom receive no further notifications. The
// cleanup engine uses this for hard deletes and archival.
func (s *Store) Evict(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateLocked(id) == nil {
		return
	}
	s.states[id] = nil
	for _, st := range s.states {
		if st == nil {
			continue
		}
		for i, d := range st.dependents {
			if d.DependentID() == id {
				st.dependents = append(st.dependents[:i], st.dependents[i+1:]...)
				break
			}
		}
	}
}

// Close tears the store down: all atom state and observers are dropped.
// Atoms accessed afterwards materialize fresh state.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = nil
	s.observers = nil
	s.closed = true
}

func (s *Store) stateLocked(id ID) *atomState {
	if int(id) >= len(s.states) {
		return nil
	}
	return s.states[id]
}

func (s *Store) ensureStateLocked(id ID) *atomState {
	for int(id) >= len(s.states) {
		s.states = append(s.states, nil)
	}
	if s.states[id] == nil {
		s.states[id] = &atomState{}
	}
	return s.states[id]
}

func (s *Store) notifyAccessed(id ID) {
	s.mu.RLock()
	obs := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range obs {
		o.AtomAccessed(id)
	}
}

func (s *Store) notifyChanged(id ID) {
	s.mu.RLock()
	obs := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range obs {
		o.AtomChanged(id)
	}
}

// valuesEqual provides type-appropriate equality for stored values.
// Uses == for common comparable types and reflect.DeepEqual otherwise.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case uint64:
		bv, ok := b.(uint64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return reflect.DeepEqual(a, b)
	}
}
