package track

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atomflow-dev/atomflow/pkg/atom"
)

// tracerName is the instrumentation scope for sweep spans.
const tracerName = "atomflow"

// Action is what the engine does with selected candidates.
type Action int

const (
	// ActionArchive removes the atom from the tracker and keeps its final
	// snapshot in bounded archive storage for possible restore.
	ActionArchive Action = iota

	// ActionDelete removes the atom outright.
	ActionDelete

	// ActionNotify emits cleanup events without removing anything.
	ActionNotify
)

func (a Action) String() string {
	switch a {
	case ActionArchive:
		return "archive"
	case ActionDelete:
		return "delete"
	case ActionNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// StateEvictor destroys an atom's live state in its owning store.
// *atom.Store implements it; the engine calls it when an atom is archived
// or deleted so no dangling state survives reclamation.
type StateEvictor interface {
	Evict(id atom.ID)
}

// EngineConfig controls sweep cadence and behavior.
type EngineConfig struct {
	// Interval between automatic sweeps when the engine is started.
	Interval time.Duration

	// BatchSize is the maximum atoms reclaimed per sweep.
	BatchSize int

	// Action applied to selected candidates.
	Action Action

	// MaxArchived bounds the archive; the oldest archived snapshot is
	// dropped when the bound is exceeded.
	MaxArchived int
}

// DefaultEngineConfig returns the standard cadence: sweep every 30
// seconds, reclaim at most 10 atoms per sweep, archive them, keep at most
// 128 archived snapshots.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Interval:    30 * time.Second,
		BatchSize:   10,
		Action:      ActionArchive,
		MaxArchived: 128,
	}
}

// Stats are cumulative counters across every sweep the engine has run.
type Stats struct {
	TotalSweeps         uint64        `json:"totalSweeps"`
	TotalAtomsRemoved   uint64        `json:"totalAtomsRemoved"`
	EstimatedBytesFreed uint64        `json:"estimatedBytesFreed"`
	LastSweep           time.Time     `json:"lastSweep"`
	AvgSweepDuration    time.Duration `json:"avgSweepDuration"`
}

// SweepResult describes one completed sweep.
type SweepResult struct {
	Eligible int           `json:"eligible"`
	Selected int           `json:"selected"`
	Removed  int           `json:"removed"`
	Action   Action        `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Engine periodically reclaims gc-eligible atoms. Each sweep moves through
// idle -> collecting candidates -> applying action -> idle; sweeps never
// overlap, whether timer-driven or called directly.
type Engine struct {
	tracker  *Tracker
	strategy Strategy
	cfg      EngineConfig
	evictor  StateEvictor
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	now      func() time.Time

	// sweepMu serializes sweeps; mu guards archive and stats so event
	// listeners may read them mid-sweep.
	sweepMu      sync.Mutex
	mu           sync.Mutex
	archive      map[atom.ID]TrackedAtom
	archiveOrder []atom.ID
	stats        Stats
	sweepTotal   time.Duration

	loopMu   sync.Mutex
	ticker   *time.Ticker
	done     chan struct{}
	loopDone chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEvictor wires the store whose state should be destroyed when atoms
// are reclaimed. Without it the engine only maintains the ledger.
func WithEvictor(e StateEvictor) EngineOption {
	return func(en *Engine) {
		en.evictor = e
	}
}

// WithEngineLogger sets the engine's logger. Defaults to slog.Default.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(en *Engine) {
		en.logger = logger
	}
}

// WithEngineMetrics attaches Prometheus metrics updated on every sweep.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(en *Engine) {
		en.metrics = m
	}
}

// WithEngineClock overrides the engine's time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(en *Engine) {
		en.now = now
	}
}

// WithEngineTracer sets the tracer for sweep spans.
func WithEngineTracer(t trace.Tracer) EngineOption {
	return func(en *Engine) {
		en.tracer = t
	}
}

// NewEngine creates a cleanup engine over the tracker using the given
// strategy. A nil config means DefaultEngineConfig.
func NewEngine(tracker *Tracker, strategy Strategy, cfg *EngineConfig, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	en := &Engine{
		tracker:  tracker,
		strategy: strategy,
		cfg:      *cfg,
		now:      time.Now,
		archive:  make(map[atom.ID]TrackedAtom),
	}
	for _, opt := range opts {
		opt(en)
	}
	if en.logger == nil {
		en.logger = slog.Default()
	}
	en.logger = en.logger.With("component", "cleanup_engine", "strategy", strategy.Name())
	if en.tracer == nil {
		en.tracer = otel.Tracer(tracerName)
	}
	return en
}

// Start launches the sweep loop. Stop must be called on teardown or the
// timer goroutine leaks.
func (en *Engine) Start() {
	en.loopMu.Lock()
	defer en.loopMu.Unlock()
	if en.done != nil {
		return
	}
	en.ticker = time.NewTicker(en.cfg.Interval)
	en.done = make(chan struct{})
	en.loopDone = make(chan struct{})
	go en.loop(en.ticker, en.done, en.loopDone)

	en.logger.Info("cleanup engine started",
		"interval", en.cfg.Interval,
		"batch_size", en.cfg.BatchSize,
		"action", en.cfg.Action.String())
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
// Safe to call multiple times.
func (en *Engine) Stop() {
	en.loopMu.Lock()
	defer en.loopMu.Unlock()
	if en.done == nil {
		return
	}
	close(en.done)
	<-en.loopDone
	en.ticker.Stop()
	en.ticker = nil
	en.done = nil
	en.loopDone = nil

	en.logger.Info("cleanup engine stopped")
}

func (en *Engine) loop(ticker *time.Ticker, done, loopDone chan struct{}) {
	defer close(loopDone)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			en.Sweep(context.Background())
		}
	}
}

// Sweep runs one reclamation cycle: collect eligible atoms, let the
// strategy pick candidates, apply the configured action, update stats.
// Callable directly for deterministic tests; concurrent sweeps serialize.
func (en *Engine) Sweep(ctx context.Context) SweepResult {
	en.sweepMu.Lock()
	defer en.sweepMu.Unlock()

	_, span := en.tracer.Start(ctx, "cleanup.sweep",
		trace.WithAttributes(attribute.String("strategy", en.strategy.Name())))
	defer span.End()

	start := en.now()
	en.tracker.emit(Event{Type: EventBeforeCleanup, Time: start})

	all := en.tracker.Snapshot()
	elig := eligible(all)
	candidates := en.strategy.SelectCandidates(elig, en.cfg.BatchSize)

	removed := 0
	var freed uint64
	for _, c := range candidates {
		switch en.cfg.Action {
		case ActionArchive:
			snap, ok := en.tracker.remove(c.ID, StatusArchived)
			if !ok {
				en.reportVanished(c)
				continue
			}
			en.mu.Lock()
			en.archiveLocked(snap)
			en.mu.Unlock()
			if en.evictor != nil {
				en.evictor.Evict(c.ID)
			}
			removed++
			freed += estimateSize(snap)
			en.tracker.emit(Event{Type: EventCleanup, AtomID: c.ID, Name: c.Name, Time: en.now(), Detail: "archived"})

		case ActionDelete:
			snap, ok := en.tracker.remove(c.ID, StatusDeleted)
			if !ok {
				en.reportVanished(c)
				continue
			}
			if en.evictor != nil {
				en.evictor.Evict(c.ID)
			}
			removed++
			freed += estimateSize(snap)
			en.tracker.emit(Event{Type: EventCleanup, AtomID: c.ID, Name: c.Name, Time: en.now(), Detail: "deleted"})

		case ActionNotify:
			en.tracker.emit(Event{Type: EventCleanup, AtomID: c.ID, Name: c.Name, Time: en.now(), Detail: "notify"})
		}
	}

	duration := en.now().Sub(start)
	en.mu.Lock()
	en.stats.TotalSweeps++
	en.stats.TotalAtomsRemoved += uint64(removed)
	en.stats.EstimatedBytesFreed += freed
	en.stats.LastSweep = start
	en.sweepTotal += duration
	en.stats.AvgSweepDuration = en.sweepTotal / time.Duration(en.stats.TotalSweeps)
	archived := len(en.archive)
	en.mu.Unlock()

	result := SweepResult{
		Eligible: len(elig),
		Selected: len(candidates),
		Removed:  removed,
		Action:   en.cfg.Action,
		Duration: duration,
	}

	span.SetAttributes(
		attribute.Int("atoms.eligible", result.Eligible),
		attribute.Int("atoms.removed", result.Removed),
	)
	if en.metrics != nil {
		en.metrics.observeSweep(result, en.tracker.Len(), archived)
	}
	if removed > 0 {
		en.logger.Info("sweep complete",
			"eligible", result.Eligible,
			"removed", removed,
			"duration", duration)
	}

	en.tracker.emit(Event{
		Type:   EventAfterCleanup,
		Time:   en.now(),
		Detail: fmt.Sprintf("removed=%d action=%s", removed, en.cfg.Action),
	})
	return result
}

// reportVanished emits an error event for a selected candidate that left
// the ledger between the sweep's snapshot and its removal, typically via a
// concurrent Untrack.
func (en *Engine) reportVanished(c TrackedAtom) {
	en.logger.Warn("cleanup candidate vanished before removal",
		"atom_id", c.ID, "name", c.Name)
	en.tracker.emit(Event{
		Type:   EventError,
		AtomID: c.ID,
		Name:   c.Name,
		Time:   en.now(),
		Detail: "candidate vanished before removal",
	})
}

// archiveLocked stores a snapshot, evicting the oldest when full.
func (en *Engine) archiveLocked(snap TrackedAtom) {
	if en.cfg.MaxArchived > 0 && len(en.archive) >= en.cfg.MaxArchived {
		oldest := en.archiveOrder[0]
		en.archiveOrder = en.archiveOrder[1:]
		delete(en.archive, oldest)
	}
	en.archive[snap.ID] = snap
	en.archiveOrder = append(en.archiveOrder, snap.ID)
}

// Restore moves an archived atom back into the tracker with active status
// and emits a restore event. Reports whether the atom was archived.
func (en *Engine) Restore(id atom.ID) (TrackedAtom, bool) {
	en.mu.Lock()
	snap, ok := en.archive[id]
	if ok {
		delete(en.archive, id)
		for i, aid := range en.archiveOrder {
			if aid == id {
				en.archiveOrder = append(en.archiveOrder[:i], en.archiveOrder[i+1:]...)
				break
			}
		}
	}
	en.mu.Unlock()

	if !ok {
		return TrackedAtom{}, false
	}
	en.tracker.restore(snap)
	snap.Status = StatusActive
	return snap, true
}

// Archived returns snapshots of every archived atom, oldest first.
func (en *Engine) Archived() []TrackedAtom {
	en.mu.Lock()
	defer en.mu.Unlock()
	out := make([]TrackedAtom, 0, len(en.archive))
	for _, id := range en.archiveOrder {
		out = append(out, en.archive[id])
	}
	return out
}

// Stats returns a copy of the cumulative sweep counters.
func (en *Engine) Stats() Stats {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.stats
}

// estimateSize approximates the ledger and state footprint of one atom.
// Bookkeeping dominates; the stored value itself is opaque to the engine.
func estimateSize(a TrackedAtom) uint64 {
	const base = 256 // entry struct, map slots, state slot
	return base + uint64(len(a.Name)) + uint64(len(a.SubscriberIDs))*8
}
