package track

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/atomflow-dev/atomflow/pkg/atom"
)

func TestMetricsCountEvents(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	tr, _ := newTestTracker(nil)
	cancel := m.BindTracker(tr)
	defer cancel()

	a := atom.New(0)
	tr.Track(a, "a")
	tr.AtomAccessed(a.AtomID())
	tr.AtomAccessed(a.AtomID())

	if got := testutil.ToFloat64(m.eventsTotal.WithLabelValues("track")); got != 1 {
		t.Errorf("expected 1 track event, got %f", got)
	}
	if got := testutil.ToFloat64(m.eventsTotal.WithLabelValues("access")); got != 2 {
		t.Errorf("expected 2 access events, got %f", got)
	}
}

func TestMetricsObserveSweep(t *testing.T) {
	m := NewMetrics(
		WithRegistry(prometheus.NewRegistry()),
		WithNamespace("test"),
		WithSubsystem("sweep"),
	)
	f := newEngineFixture(t)
	en := NewEngine(f.tracker, LRU{}, &EngineConfig{
		Interval:  time.Hour,
		BatchSize: 2,
		Action:    ActionDelete,
	}, WithEngineClock(f.clock.Now), WithEngineMetrics(m))

	en.Sweep(context.Background())

	if got := testutil.ToFloat64(m.sweepsTotal); got != 1 {
		t.Errorf("expected 1 sweep, got %f", got)
	}
	if got := testutil.ToFloat64(m.atomsRemoved.WithLabelValues("delete")); got != 2 {
		t.Errorf("expected 2 removed, got %f", got)
	}
	if got := testutil.ToFloat64(m.trackedAtoms); got != 3 {
		t.Errorf("expected 3 tracked, got %f", got)
	}
}
