package atom

import (
	"errors"
	"testing"
)

func TestGetInitialValue(t *testing.T) {
	s := NewStore()
	count := New(42)

	if got := Get(s, count); got != 42 {
		t.Errorf("expected initial value 42, got %d", got)
	}
}

func TestReadAfterWrite(t *testing.T) {
	s := NewStore()
	count := New(0)

	Get(s, count) // materialize

	if err := Set(s, count, 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := Get(s, count); got != 5 {
		t.Errorf("expected 5 after Set, got %d", got)
	}

	if err := Update(s, count, func(n int) int { return n * 2 }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := Get(s, count); got != 10 {
		t.Errorf("expected 10 after Update, got %d", got)
	}
}

func TestSetWithoutStateFails(t *testing.T) {
	s := NewStore()
	count := New(0)

	err := Set(s, count, 1)
	if !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestSetDerivedIsReadOnly(t *testing.T) {
	s := NewStore()
	derived := Derived(func(Getter) int { return 1 })
	Get(s, derived)

	err := Set(s, derived, 2)
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestDerivedMaterializesOnce(t *testing.T) {
	s := NewStore()
	base := New(3)
	reads := 0
	derived := Derived(func(g Getter) int {
		reads++
		return Read(g, base) + 1
	})

	if got := Get(s, derived); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
	Get(s, derived)
	Get(s, derived)

	if reads != 1 {
		t.Errorf("read function should run once, ran %d times", reads)
	}
}

func TestSubscriberNotificationOrder(t *testing.T) {
	s := NewStore()
	count := New(0)
	Get(s, count)

	var order []int
	Subscribe(s, count, func(int) { order = append(order, 1) })
	Subscribe(s, count, func(int) { order = append(order, 2) })
	Subscribe(s, count, func(int) { order = append(order, 3) })

	if err := Set(s, count, 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected notification order [1 2 3], got %v", order)
	}
}

func TestSubscribeReceivesNewValue(t *testing.T) {
	s := NewStore()
	count := New(0)

	var got int
	Subscribe(s, count, func(v int) { got = v })

	// Subscribe materialized state; Set must succeed without a prior Get.
	if err := Set(s, count, 7); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got != 7 {
		t.Errorf("subscriber expected 7, got %d", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	s := NewStore()
	count := New(0)

	calls := 0
	unsub := Subscribe(s, count, func(int) { calls++ })

	Set(s, count, 1)
	unsub()
	unsub() // second call must be a no-op
	Set(s, count, 2)

	if calls != 1 {
		t.Errorf("expected 1 notification before unsubscribe, got %d", calls)
	}
}

func TestUnsubscribePreservesOrder(t *testing.T) {
	s := NewStore()
	count := New(0)
	Get(s, count)

	var order []int
	Subscribe(s, count, func(int) { order = append(order, 1) })
	unsub2 := Subscribe(s, count, func(int) { order = append(order, 2) })
	Subscribe(s, count, func(int) { order = append(order, 3) })

	unsub2()
	Set(s, count, 1)

	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("expected order [1 3] after removing middle subscriber, got %v", order)
	}
}

func TestEvictDestroysState(t *testing.T) {
	s := NewStore()
	count := New(9)
	Get(s, count)

	if !s.Has(count.AtomID()) {
		t.Fatal("expected state after Get")
	}
	s.Evict(count.AtomID())
	if s.Has(count.AtomID()) {
		t.Error("expected no state after Evict")
	}
	if err := Set(s, count, 1); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState after eviction, got %v", err)
	}
	// Re-access materializes fresh state from the descriptor.
	if got := Get(s, count); got != 9 {
		t.Errorf("expected re-materialized initial value 9, got %d", got)
	}
}

func TestStoresAreIsolated(t *testing.T) {
	s1 := NewStore()
	s2 := NewStore()
	count := New(0)

	Get(s1, count)
	Get(s2, count)
	Set(s1, count, 100)

	if got := Get(s2, count); got != 0 {
		t.Errorf("stores must be isolated; second store saw %d", got)
	}
}

func TestCloseDropsAllState(t *testing.T) {
	s := NewStore()
	count := New(1)
	Get(s, count)

	s.Close()

	if err := Set(s, count, 2); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState after Close, got %v", err)
	}
}

type recordingObserver struct {
	accessed []ID
	changed  []ID
}

func (o *recordingObserver) AtomAccessed(id ID) { o.accessed = append(o.accessed, id) }
func (o *recordingObserver) AtomChanged(id ID)  { o.changed = append(o.changed, id) }

func TestObserverSeesAccessAndChange(t *testing.T) {
	s := NewStore()
	obs := &recordingObserver{}
	s.AddObserver(obs)

	count := New(0)
	Get(s, count)
	Get(s, count)
	Set(s, count, 1)

	if len(obs.accessed) != 2 {
		t.Errorf("expected 2 access notifications, got %d", len(obs.accessed))
	}
	if len(obs.changed) != 1 || obs.changed[0] != count.AtomID() {
		t.Errorf("expected 1 change notification for %d, got %v", count.AtomID(), obs.changed)
	}
}
