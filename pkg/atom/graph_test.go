package atom

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestGraph() (*Store, *Graph, *QueueScheduler) {
	s := NewStore()
	sched := NewQueueScheduler()
	g := NewGraph(s, WithScheduler(sched))
	return s, g, sched
}

func TestComputeDouble(t *testing.T) {
	s, g, _ := newTestGraph()

	count := New(0, WithName("count"))
	double := Derived(func(g Getter) int {
		return Read(g, count) * 2
	}, WithName("double"))

	Get(s, count)
	if err := Register(g, double, []Dependency{On(count)}, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := Set(s, count, 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := Compute(g, double)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v != 10 {
		t.Errorf("expected 10, got %d", v)
	}
}

func TestComputeUnregistered(t *testing.T) {
	_, g, _ := newTestGraph()
	orphan := Derived(func(Getter) int { return 0 })

	_, err := Compute(g, orphan)
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegisterWritableAtomFails(t *testing.T) {
	_, g, _ := newTestGraph()
	count := New(0)

	err := Register(g, count, nil, nil)
	if !errors.Is(err, ErrNotDerived) {
		t.Errorf("expected ErrNotDerived, got %v", err)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	_, g, _ := newTestGraph()
	d := Derived(func(Getter) int { return 0 })

	if err := Register(g, d, nil, nil); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := Register(g, d, nil, nil); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestCacheServedWithoutRecompute(t *testing.T) {
	s, g, _ := newTestGraph()

	base := New(2)
	Get(s, base)

	evals := 0
	sum := Derived(func(g Getter) int {
		evals++
		return Read(g, base) + 1
	})
	Register(g, sum, []Dependency{On(base)}, nil)

	v1, _ := Compute(g, sum)
	v2, _ := Compute(g, sum)

	if v1 != 3 || v2 != 3 {
		t.Errorf("expected 3/3, got %d/%d", v1, v2)
	}
	if evals != 1 {
		t.Errorf("fresh cache must be served without recompute; evaluated %d times", evals)
	}
}

func TestCacheExpiresByTTL(t *testing.T) {
	s := NewStore()
	now := time.Unix(1000, 0)
	g := NewGraph(s,
		WithScheduler(NewQueueScheduler()),
		WithClock(func() time.Time { return now }))

	base := New(1)
	Get(s, base)

	evals := 0
	d := Derived(func(g Getter) int {
		evals++
		return Read(g, base)
	})
	cfg := &ComputedConfig{Lazy: true, Cache: true, CacheTTL: time.Second, InvalidateOnChange: false}
	Register(g, d, []Dependency{On(base)}, cfg)

	Compute(g, d)
	Compute(g, d)
	if evals != 1 {
		t.Fatalf("expected 1 evaluation within TTL, got %d", evals)
	}

	now = now.Add(2 * time.Second)
	Compute(g, d)
	if evals != 2 {
		t.Errorf("expected recompute after TTL expiry, got %d evaluations", evals)
	}
}

func TestCacheCoherence(t *testing.T) {
	s, g, sched := newTestGraph()

	base := New(10)
	Get(s, base)

	d := Derived(func(g Getter) int { return Read(g, base) * 3 }, WithName("triple"))
	Register(g, d, []Dependency{On(base)}, nil)

	Compute(g, d)
	Set(s, base, 20)
	sched.Drain()

	cached, _ := Compute(g, d)
	g.InvalidateCache(d.AtomID())
	fresh, _ := Compute(g, d)

	if cached != fresh {
		t.Errorf("valid cache must match fresh recompute: cached %d, fresh %d", cached, fresh)
	}
}

func TestCoalescedRecompute(t *testing.T) {
	s, g, sched := newTestGraph()

	a := New(1)
	b := New(2)
	Get(s, a)
	Get(s, b)

	evals := 0
	sum := Derived(func(g Getter) int {
		evals++
		return Read(g, a) + Read(g, b)
	})
	Register(g, sum, []Dependency{On(a), On(b)}, nil)

	Set(s, a, 10)
	Set(s, b, 20)

	if n := sched.Len(); n != 1 {
		t.Errorf("expected a single queued flush for coalesced changes, got %d", n)
	}

	sched.Drain()
	if evals != 1 {
		t.Errorf("expected one coalesced recompute, got %d", evals)
	}

	v, _ := Compute(g, sum)
	if v != 30 {
		t.Errorf("expected 30, got %d", v)
	}
}

func TestInvalidateOnChangeDisabled(t *testing.T) {
	s, g, sched := newTestGraph()

	base := New(1)
	Get(s, base)

	evals := 0
	d := Derived(func(g Getter) int {
		evals++
		return Read(g, base)
	})
	cfg := &ComputedConfig{Lazy: true, Cache: true, CacheTTL: time.Hour, InvalidateOnChange: false}
	Register(g, d, []Dependency{On(base)}, cfg)

	v1, _ := Compute(g, d)
	Set(s, base, 99)
	sched.Drain()
	v2, _ := Compute(g, d)

	if v1 != 1 || v2 != 1 {
		t.Errorf("cache should survive dependency change, got %d then %d", v1, v2)
	}
	if evals != 1 {
		t.Errorf("expected 1 evaluation, got %d", evals)
	}
}

func TestTransformDependency(t *testing.T) {
	s, g, _ := newTestGraph()

	words := New([]string{"a", "b", "c"})
	Get(s, words)

	joined := Derived(func(get Getter) string {
		// Declared with a transform, so the getter serves the transformed
		// snapshot value rather than the raw slice.
		v, _ := get(words).(string)
		return v
	}, WithName("joined"))
	dep := Transform(words, func(w []string) string {
		out := ""
		for _, s := range w {
			out += s
		}
		return out
	})
	Register(g, joined, []Dependency{dep}, nil)

	v, _ := Compute(g, joined)
	if v != "abc" {
		t.Errorf("expected transformed value %q, got %q", "abc", v)
	}
}

func TestUnchangedDependencySkipsRecompute(t *testing.T) {
	s, g, sched := newTestGraph()

	base := New(5)
	Get(s, base)

	evals := 0
	double := Derived(func(g Getter) int {
		evals++
		return Read(g, base) * 2
	})
	Register(g, double, []Dependency{On(base)}, nil)

	if v, _ := Compute(g, double); v != 10 {
		t.Fatalf("expected 10, got %d", v)
	}
	if evals != 1 {
		t.Fatalf("expected 1 evaluation, got %d", evals)
	}

	// Rewriting the same value invalidates the cache, but the dependency
	// snapshot still matches: the flush revalidates without evaluating.
	Set(s, base, 5)
	sched.Drain()
	if evals != 1 {
		t.Errorf("no-op write must not recompute, got %d evaluations", evals)
	}
	if v, _ := Compute(g, double); v != 10 {
		t.Errorf("expected revalidated value 10, got %d", v)
	}
	if evals != 1 {
		t.Errorf("expected cache hit after revalidation, got %d evaluations", evals)
	}

	Set(s, base, 6)
	sched.Drain()
	if evals != 2 {
		t.Errorf("changed dependency must recompute, got %d evaluations", evals)
	}
	if v, _ := Compute(g, double); v != 12 {
		t.Errorf("expected 12, got %d", v)
	}
}

func TestTransformEqualValueSkipsRecompute(t *testing.T) {
	s, g, sched := newTestGraph()

	count := New(4)
	Get(s, count)

	evals := 0
	even := Derived(func(get Getter) string {
		evals++
		if v, _ := get(count).(bool); v {
			return "even"
		}
		return "odd"
	})
	parity := Transform(count, func(n int) bool { return n%2 == 0 })
	Register(g, even, []Dependency{parity}, nil)

	if v, _ := Compute(g, even); v != "even" {
		t.Fatalf("expected even, got %q", v)
	}

	// The snapshot stores transformed values: a source change that maps to
	// the same transformed value revalidates without evaluating.
	Set(s, count, 8)
	sched.Drain()
	if evals != 1 {
		t.Errorf("equal transformed value must not recompute, got %d evaluations", evals)
	}

	Set(s, count, 3)
	sched.Drain()
	if evals != 2 {
		t.Errorf("changed transformed value must recompute, got %d evaluations", evals)
	}
	if v, _ := Compute(g, even); v != "odd" {
		t.Errorf("expected odd, got %q", v)
	}
}

func TestEvaluationPanicSuppressed(t *testing.T) {
	s, g, _ := newTestGraph()

	base := New(1)
	Get(s, base)

	broken := Derived(func(Getter) int {
		panic("boom")
	}, WithName("broken"))
	healthy := Derived(func(g Getter) int {
		return Read(g, base) + 1
	}, WithName("healthy"))

	Register(g, broken, []Dependency{On(base)}, nil)
	Register(g, healthy, []Dependency{On(base)}, nil)

	v, err := Compute(g, broken)
	if err != nil {
		t.Errorf("evaluation failure must be suppressed, got error %v", err)
	}
	if v != 0 {
		t.Errorf("expected zero value from failed compute, got %d", v)
	}

	// A broken computed atom must not poison unrelated atoms.
	hv, err := Compute(g, healthy)
	if err != nil || hv != 2 {
		t.Errorf("expected healthy atom to compute 2, got %d (err %v)", hv, err)
	}
}

func TestSingleLevelCascade(t *testing.T) {
	s, g, _ := newTestGraph()

	count := New(1, WithName("count"))
	double := Derived(func(g Getter) int {
		return Read(g, count) * 2
	}, WithName("double"))

	Get(s, count)
	Register(g, double, []Dependency{On(count)}, nil)

	// Materialize the dependent so the cascade has state to update.
	if got := Get(s, double); got != 2 {
		t.Fatalf("expected initial derived value 2, got %d", got)
	}

	var notified []int
	Subscribe(s, double, func(v int) { notified = append(notified, v) })

	if err := Set(s, count, 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The cascade is synchronous: by the time Set returns, the dependent's
	// stored value is updated and its subscribers were notified.
	if got := Get(s, double); got != 10 {
		t.Errorf("expected cascaded value 10, got %d", got)
	}
	if len(notified) != 1 || notified[0] != 10 {
		t.Errorf("expected dependent subscriber to see [10], got %v", notified)
	}
}

func TestDetectCircularDependencies(t *testing.T) {
	_, g, _ := newTestGraph()

	var a, b *Atom[int]
	a = Derived(func(get Getter) int { return Read(get, b) + 1 }, WithName("a"))
	b = Derived(func(get Getter) int { return Read(get, a) + 1 }, WithName("b"))

	if err := Register(g, a, []Dependency{On(b)}, nil); err != nil {
		t.Fatalf("Register a failed: %v", err)
	}
	if err := Register(g, b, []Dependency{On(a)}, nil); err != nil {
		t.Fatalf("Register b failed: %v", err)
	}

	cycles := g.DetectCycles()
	if len(cycles) == 0 {
		t.Fatal("expected a reported cycle")
	}

	found := map[ID]bool{}
	for _, cycle := range cycles {
		for _, id := range cycle {
			found[id] = true
		}
	}
	if !found[a.AtomID()] || !found[b.AtomID()] {
		t.Errorf("cycle must contain both atoms, got %v", cycles)
	}

	// Computing a cyclic atom terminates via the re-entrancy guard.
	if _, err := Compute(g, a); err != nil {
		t.Errorf("computing a cyclic atom must not fail hard: %v", err)
	}
}

func TestDependencyGraphListing(t *testing.T) {
	s, g, _ := newTestGraph()

	x := New(0, WithName("x"))
	y := New(0, WithName("y"))
	Get(s, x)
	Get(s, y)

	sum := Derived(func(g Getter) int { return Read(g, x) + Read(g, y) }, WithName("sum"))
	Register(g, sum, []Dependency{On(x), On(y)}, nil)

	adj := g.DependencyGraph()
	deps, ok := adj["sum"]
	if !ok {
		t.Fatal("expected sum in adjacency listing")
	}
	if len(deps) != 2 || deps[0] != "x" || deps[1] != "y" {
		t.Errorf("expected [x y], got %v", deps)
	}
}

func TestRemoveComputed(t *testing.T) {
	s, g, sched := newTestGraph()

	base := New(1)
	Get(s, base)

	evals := 0
	d := Derived(func(g Getter) int {
		evals++
		return Read(g, base)
	})
	Register(g, d, []Dependency{On(base)}, nil)
	Compute(g, d)

	if !g.RemoveComputed(d.AtomID()) {
		t.Fatal("RemoveComputed reported not registered")
	}
	if g.Registered(d.AtomID()) {
		t.Error("atom still registered after removal")
	}

	// Changes no longer schedule recomputes for the removed atom.
	Set(s, base, 2)
	sched.Drain()
	if evals != 1 {
		t.Errorf("expected no recompute after removal, got %d evaluations", evals)
	}

	if _, err := Compute(g, d); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered after removal, got %v", err)
	}
}

func TestWarmCache(t *testing.T) {
	s, g, _ := newTestGraph()

	base := New(4)
	Get(s, base)

	evals := 0
	d := Derived(func(g Getter) int {
		evals++
		return Read(g, base)
	})
	Register(g, d, []Dependency{On(base)}, nil)

	if err := g.WarmCache(context.Background()); err != nil {
		t.Fatalf("WarmCache failed: %v", err)
	}
	if evals != 1 {
		t.Fatalf("expected warm to evaluate once, got %d", evals)
	}

	// Subsequent compute is a cache hit.
	Compute(g, d)
	if evals != 1 {
		t.Errorf("expected cache hit after warm, got %d evaluations", evals)
	}

	if err := g.WarmCache(context.Background(), ID(999999)); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered for unknown id, got %v", err)
	}
}

func TestEagerRegistration(t *testing.T) {
	s, g, _ := newTestGraph()

	base := New(6)
	Get(s, base)

	evals := 0
	d := Derived(func(g Getter) int {
		evals++
		return Read(g, base)
	})
	cfg := &ComputedConfig{Lazy: false, Cache: true, CacheTTL: time.Hour, InvalidateOnChange: true}
	Register(g, d, []Dependency{On(base)}, cfg)

	if evals != 1 {
		t.Errorf("expected eager initial computation, got %d evaluations", evals)
	}
}

func TestChainedComputedResolvesThroughGraph(t *testing.T) {
	s, g, sched := newTestGraph()

	base := New(1, WithName("base"))
	Get(s, base)

	double := Derived(func(g Getter) int { return Read(g, base) * 2 }, WithName("double"))
	quad := Derived(func(g Getter) int { return Read(g, double) * 2 }, WithName("quad"))

	Register(g, double, []Dependency{On(base)}, nil)
	Register(g, quad, []Dependency{On(double)}, nil)

	Set(s, base, 3)
	sched.Drain()

	v, err := Compute(g, quad)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v != 12 {
		t.Errorf("expected 12 through the chain, got %d", v)
	}
}
