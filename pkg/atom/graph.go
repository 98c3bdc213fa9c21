package atom

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for graph spans.
const tracerName = "atomflow"

// ComputedConfig controls caching and recompute behavior for one computed
// atom. A nil config passed to Register means DefaultComputedConfig.
type ComputedConfig struct {
	// Lazy skips the eager initial computation at registration.
	Lazy bool

	// Cache enables serving memoized values while they are fresh.
	Cache bool

	// CacheTTL bounds the age of a cached value. Zero or negative means
	// the cache never expires by age; it is still invalidated by
	// dependency changes when InvalidateOnChange is set.
	CacheTTL time.Duration

	// InvalidateOnChange invalidates the cache and schedules a coalesced
	// recompute whenever a dependency's stored value changes.
	InvalidateOnChange bool
}

// DefaultComputedConfig returns the standard configuration: lazy, cached
// for 5 seconds, invalidated on dependency change.
func DefaultComputedConfig() *ComputedConfig {
	return &ComputedConfig{
		Lazy:               true,
		Cache:              true,
		CacheTTL:           5 * time.Second,
		InvalidateOnChange: true,
	}
}

// computedCache is the memoized result of one computation.
type computedCache struct {
	value   any
	builtAt time.Time

	// depValues is the snapshot of resolved dependency values the cached
	// value was produced from, keyed by source atom ID. Compared against
	// freshly resolved values on recompute to revalidate after no-op
	// invalidations.
	depValues map[ID]any

	valid bool
}

// computedEntry is the graph's record for one registered computed atom.
type computedEntry struct {
	atom  AnyAtom
	deps  []Dependency
	cfg   ComputedConfig
	cache computedCache

	// computing guards against re-entrant evaluation of the same atom,
	// which happens when a dependency cycle is computed.
	computing bool
}

// Graph owns the explicit dependency registrations of computed atoms,
// their caches, and the coalesced invalidation pipeline. It observes a
// single Store; registration is the only mechanism that creates
// dependency edges.
type Graph struct {
	store  *Store
	sched  Scheduler
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	// ownSched is set when the graph created its scheduler itself and is
	// responsible for stopping it on Close.
	ownSched *AsyncScheduler

	mu          sync.Mutex
	entries     map[ID]*computedEntry
	dependents  map[ID][]ID // source -> computed atoms to invalidate
	pending     map[ID]struct{}
	flushQueued bool
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithScheduler sets the scheduler used for coalesced recompute passes.
// Defaults to an AsyncScheduler owned by the graph.
func WithScheduler(s Scheduler) GraphOption {
	return func(g *Graph) {
		g.sched = s
	}
}

// WithGraphLogger sets the graph's logger. Defaults to slog.Default.
func WithGraphLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) {
		g.logger = logger
	}
}

// WithClock overrides the graph's time source, used for cache TTL checks.
func WithClock(now func() time.Time) GraphOption {
	return func(g *Graph) {
		g.now = now
	}
}

// WithTracer sets the tracer used for WarmCache spans.
func WithTracer(t trace.Tracer) GraphOption {
	return func(g *Graph) {
		g.tracer = t
	}
}

// NewGraph creates a graph bound to store and registers it as a store
// observer so dependency changes reach the invalidation pipeline.
func NewGraph(store *Store, opts ...GraphOption) *Graph {
	g := &Graph{
		store:      store,
		now:        time.Now,
		entries:    make(map[ID]*computedEntry),
		dependents: make(map[ID][]ID),
		pending:    make(map[ID]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "graph")
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	if g.sched == nil {
		g.ownSched = NewAsyncScheduler()
		g.sched = g.ownSched
	}
	store.AddObserver(g)
	return g
}

// Close releases graph resources. Only the scheduler the graph created
// itself is stopped; injected schedulers belong to the caller.
func (g *Graph) Close() {
	if g.ownSched != nil {
		g.ownSched.Stop()
	}
}

// Register records a's dependency list and configuration, wires a as a
// dependent of every source so invalidation can be dispatched later, and
// performs the eager initial computation when cfg.Lazy is false.
//
// Cycles among registered atoms are diagnosed by DetectCycles; they do
// not cause Register to fail.
func Register[T any](g *Graph, a *Atom[T], deps []Dependency, cfg *ComputedConfig) error {
	return g.register(a, deps, cfg)
}

func (g *Graph) register(a AnyAtom, deps []Dependency, cfg *ComputedConfig) error {
	if a.writable() {
		return ErrNotDerived
	}
	if cfg == nil {
		cfg = DefaultComputedConfig()
	}
	id := a.AtomID()

	g.mu.Lock()
	if _, exists := g.entries[id]; exists {
		g.mu.Unlock()
		return ErrAlreadyRegistered
	}
	entry := &computedEntry{
		atom: a,
		deps: append([]Dependency(nil), deps...),
		cfg:  *cfg,
	}
	g.entries[id] = entry
	for _, d := range deps {
		src := d.Source().AtomID()
		g.dependents[src] = append(g.dependents[src], id)
	}
	g.mu.Unlock()

	for _, d := range deps {
		g.store.AddDependent(d.Source(), graphDependent{g: g, id: id})
	}

	if !cfg.Lazy {
		g.computeID(id, true)
	}
	return nil
}

// Compute returns the computed atom's value. A fresh cached value is
// served without recomputation or dependency re-reads; otherwise the
// dependencies are resolved, the read function runs, and the cache is
// updated. Panics in the read function are recovered and logged, and the
// zero value is returned in their place. Computing an unregistered atom
// is misuse and returns ErrNotRegistered.
func Compute[T any](g *Graph, a *Atom[T]) (T, error) {
	var zero T
	v, ok, err := g.computeID(a.AtomID(), false)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, nil
	}
	t, _ := v.(T)
	return t, nil
}

// cacheFreshLocked reports whether the entry's cache is within its TTL.
// Zero or negative TTL never expires by age.
func (g *Graph) cacheFreshLocked(e *computedEntry) bool {
	ttl := e.cfg.CacheTTL
	if ttl <= 0 {
		return true
	}
	return g.now().Sub(e.cache.builtAt) < ttl
}

// computeID computes one registered atom. force bypasses the cache.
// ok is false when evaluation failed and the result was suppressed.
func (g *Graph) computeID(id ID, force bool) (value any, ok bool, err error) {
	g.mu.Lock()
	e := g.entries[id]
	if e == nil {
		g.mu.Unlock()
		return nil, false, ErrNotRegistered
	}
	if !force && e.cfg.Cache && e.cache.valid && g.cacheFreshLocked(e) {
		v := e.cache.value
		g.mu.Unlock()
		return v, true, nil
	}
	if e.computing {
		// Re-entered through a dependency cycle. Serve whatever is cached
		// rather than recursing forever.
		v, valid := e.cache.value, e.cache.valid
		g.mu.Unlock()
		g.logger.Warn("computed atom re-entered during its own evaluation",
			"atom", e.atom.Name())
		return v, valid, nil
	}
	e.computing = true
	deps := e.deps
	a := e.atom
	g.mu.Unlock()

	depValues := make(map[ID]any, len(deps))
	for _, d := range deps {
		depValues[d.Source().AtomID()] = d.resolve(g)
	}

	// An invalidated but age-fresh cache whose stored dependency snapshot
	// still matches the freshly resolved values is revalidated without
	// running the read function: the write that invalidated it was a no-op
	// at this atom's inputs.
	if !force {
		g.mu.Lock()
		if e.cache.depValues != nil && g.cacheFreshLocked(e) &&
			depValuesEqual(e.cache.depValues, depValues) {
			e.cache.valid = true
			e.computing = false
			v := e.cache.value
			g.mu.Unlock()
			return v, true, nil
		}
		g.mu.Unlock()
	}

	v, evalOK := g.evaluate(a, depValues)

	g.mu.Lock()
	e.computing = false
	if evalOK {
		e.cache = computedCache{
			value:     v,
			builtAt:   g.now(),
			depValues: depValues,
			valid:     true,
		}
	}
	g.mu.Unlock()

	if !evalOK {
		return nil, false, nil
	}
	return v, true, nil
}

// depValuesEqual compares two resolved dependency snapshots key by key.
func depValuesEqual(a, b map[ID]any) bool {
	if len(a) != len(b) {
		return false
	}
	for id, av := range a {
		bv, ok := b[id]
		if !ok || !valuesEqual(av, bv) {
			return false
		}
	}
	return true
}

// evaluate runs the atom's read function against the dependency snapshot.
// Declared dependencies are served from the snapshot (transformed values);
// anything else the function reads is resolved live.
func (g *Graph) evaluate(a AnyAtom, depValues map[ID]any) (value any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("computed atom evaluation failed",
				"atom", a.Name(),
				"panic", r)
			value = nil
			ok = false
		}
	}()

	getter := func(x AnyAtom) any {
		if v, declared := depValues[x.AtomID()]; declared {
			return v
		}
		return g.resolveValue(x)
	}
	return a.materialize(getter), true
}

// resolveValue implements valueResolver. Registered computed atoms resolve
// through their cache; everything else reads raw store state.
func (g *Graph) resolveValue(a AnyAtom) any {
	g.mu.Lock()
	_, registered := g.entries[a.AtomID()]
	g.mu.Unlock()

	if registered {
		v, _, err := g.computeID(a.AtomID(), false)
		if err != nil {
			return nil
		}
		return v
	}
	return g.store.value(a)
}

// AtomAccessed implements Observer. Reads do not affect the graph.
func (g *Graph) AtomAccessed(ID) {}

// AtomChanged implements Observer. Dependent caches are invalidated
// immediately; recomputation is coalesced into a single pass per affected
// atom on the scheduler's next tick.
func (g *Graph) AtomChanged(src ID) {
	g.mu.Lock()
	for _, id := range g.dependents[src] {
		e := g.entries[id]
		if e == nil || !e.cfg.InvalidateOnChange {
			continue
		}
		e.cache.valid = false
		g.pending[id] = struct{}{}
	}
	queue := len(g.pending) > 0 && !g.flushQueued
	if queue {
		g.flushQueued = true
	}
	g.mu.Unlock()

	if queue {
		g.sched.Schedule(g.flush)
	}
}

// flush recomputes every pending atom once. Values observed are the
// latest as of when the flush actually runs.
func (g *Graph) flush() {
	g.mu.Lock()
	ids := make([]ID, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	g.pending = make(map[ID]struct{})
	g.flushQueued = false
	g.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		g.computeID(id, false)
	}
}

// InvalidateCache marks the atom's cache invalid so the next Compute
// recomputes. Reports whether the atom was registered.
func (g *Graph) InvalidateCache(id ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[id]
	if e == nil {
		return false
	}
	e.cache.valid = false
	return true
}

// ClearAtomCache drops the atom's cached value entirely.
func (g *Graph) ClearAtomCache(id ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[id]
	if e == nil {
		return false
	}
	e.cache = computedCache{}
	return true
}

// ClearCache drops every cached value in the graph.
func (g *Graph) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.entries {
		e.cache = computedCache{}
	}
}

// WarmCache eagerly computes the given registered atoms, or all of them
// when none are named. Unknown IDs return ErrNotRegistered; evaluation
// failures are suppressed as in Compute.
func (g *Graph) WarmCache(ctx context.Context, ids ...ID) error {
	if len(ids) == 0 {
		g.mu.Lock()
		for id := range g.entries {
			ids = append(ids, id)
		}
		g.mu.Unlock()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	_, span := g.tracer.Start(ctx, "graph.warm_cache",
		trace.WithAttributes(attribute.Int("atom.count", len(ids))))
	defer span.End()

	for _, id := range ids {
		if _, _, err := g.computeID(id, false); err != nil {
			return err
		}
	}
	return nil
}

// RemoveComputed deregisters the atom: its entry and invalidation edges
// are removed, and it is pruned from every other entry's dependency list.
// Reports whether the atom was registered.
func (g *Graph) RemoveComputed(id ID) bool {
	g.mu.Lock()
	e := g.entries[id]
	if e == nil {
		g.mu.Unlock()
		return false
	}
	delete(g.entries, id)
	delete(g.pending, id)

	sources := make([]ID, 0, len(e.deps))
	for _, d := range e.deps {
		src := d.Source().AtomID()
		sources = append(sources, src)
		g.dependents[src] = removeID(g.dependents[src], id)
		if len(g.dependents[src]) == 0 {
			delete(g.dependents, src)
		}
	}

	// Prune this atom from other entries' dependency lists. Their caches
	// were built against a dependency set that no longer exists.
	holders := append([]ID(nil), g.dependents[id]...)
	for _, hid := range holders {
		other := g.entries[hid]
		if other == nil {
			continue
		}
		kept := other.deps[:0]
		for _, d := range other.deps {
			if d.Source().AtomID() != id {
				kept = append(kept, d)
			}
		}
		other.deps = kept
		other.cache.valid = false
	}
	delete(g.dependents, id)
	g.mu.Unlock()

	for _, src := range sources {
		g.store.RemoveDependent(src, id)
	}
	for _, hid := range holders {
		g.store.RemoveDependent(id, hid)
	}
	return true
}

// DependencyGraph returns a name-keyed adjacency listing, mapping each
// computed atom's name to the names of its dependency sources. Intended
// for visualization and debugging tooling.
func (g *Graph) DependencyGraph() map[string][]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string][]string, len(g.entries))
	for _, e := range g.entries {
		names := make([]string, 0, len(e.deps))
		for _, d := range e.deps {
			names = append(names, d.Source().Name())
		}
		out[e.atom.Name()] = names
	}
	return out
}

// DetectCycles performs a depth-first traversal over the dependency
// registrations and returns every dependency loop found, each as the list
// of atom IDs forming it. Detection is diagnostic: cycles are reported
// and logged, never rejected.
func (g *Graph) DetectCycles() [][]ID {
	g.mu.Lock()
	adj := make(map[ID][]ID, len(g.entries))
	roots := make([]ID, 0, len(g.entries))
	for id, e := range g.entries {
		roots = append(roots, id)
		for _, d := range e.deps {
			src := d.Source().AtomID()
			if _, registered := g.entries[src]; registered {
				adj[id] = append(adj[id], src)
			}
		}
	}
	g.mu.Unlock()
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	const (
		white = 0
		grey  = 1
		black = 2
	)
	state := make(map[ID]int, len(roots))
	var stack []ID
	var cycles [][]ID

	var visit func(id ID)
	visit = func(id ID) {
		state[id] = grey
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch state[next] {
			case white:
				visit(next)
			case grey:
				for i, s := range stack {
					if s == next {
						cycles = append(cycles, append([]ID(nil), stack[i:]...))
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = black
	}

	for _, id := range roots {
		if state[id] == white {
			visit(id)
		}
	}

	if len(cycles) > 0 {
		g.logger.Warn("circular dependencies detected", "cycles", len(cycles))
	}
	return cycles
}

// Registered reports whether the atom has a computed registration.
func (g *Graph) Registered(id ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[id]
	return ok
}

// graphDependent adapts a registered computed atom to the store's
// Dependent interface for the synchronous single-level cascade.
type graphDependent struct {
	g  *Graph
	id ID
}

func (d graphDependent) DependentID() ID {
	return d.id
}

func (d graphDependent) Recompute() (any, bool) {
	v, ok, err := d.g.computeID(d.id, true)
	if err != nil {
		return nil, false
	}
	return v, ok
}

func removeID(ids []ID, id ID) []ID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
