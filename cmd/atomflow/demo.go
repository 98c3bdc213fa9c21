package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atomflow-dev/atomflow/pkg/atom"
	"github.com/atomflow-dev/atomflow/pkg/track"
)

func demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Exercise the runtime once and print what happened",
		Long: `Run a short scripted session against the runtime: writable and
computed atoms, coalesced recomputation, lifecycle tracking, and one
cleanup sweep. Useful as a smoke test and as executable documentation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
	return cmd
}

func runDemo() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	store := atom.NewStore(atom.WithStoreLogger(logger))
	sched := atom.NewQueueScheduler()
	graph := atom.NewGraph(store,
		atom.WithScheduler(sched),
		atom.WithGraphLogger(logger))
	defer graph.Close()

	tracker := track.NewTracker(track.WithTrackerLogger(logger))
	store.AddObserver(tracker)

	// A writable count and two computed layers above it.
	count := atom.New(0, atom.WithName("count"))
	double := atom.Derived(func(get atom.Getter) int {
		return atom.Read(get, count) * 2
	}, atom.WithName("double"))
	quadruple := atom.Derived(func(get atom.Getter) int {
		return atom.Read(get, double) * 2
	}, atom.WithName("quadruple"))

	if err := atom.Register(graph, double, []atom.Dependency{atom.On(count)}, nil); err != nil {
		return err
	}
	if err := atom.Register(graph, quadruple, []atom.Dependency{atom.On(double)}, nil); err != nil {
		return err
	}

	tracker.Track(count, "")
	tracker.Track(double, "")
	tracker.Track(quadruple, "")

	fmt.Println("initial:")
	fmt.Printf("  count     = %d\n", atom.Get(store, count))
	if v, err := atom.Compute(graph, double); err == nil {
		fmt.Printf("  double    = %d\n", v)
	}
	if v, err := atom.Compute(graph, quadruple); err == nil {
		fmt.Printf("  quadruple = %d\n", v)
	}

	// Two writes coalesce into a single recompute pass.
	if err := atom.Set(store, count, 5); err != nil {
		return err
	}
	if err := atom.Set(store, count, 21); err != nil {
		return err
	}
	fmt.Printf("\nafter two writes (pending recompute tasks: %d):\n", sched.Len())
	sched.Drain()
	if v, err := atom.Compute(graph, double); err == nil {
		fmt.Printf("  double    = %d\n", v)
	}
	if v, err := atom.Compute(graph, quadruple); err == nil {
		fmt.Printf("  quadruple = %d\n", v)
	}

	fmt.Println("\ndependency graph:")
	for name, deps := range graph.DependencyGraph() {
		fmt.Printf("  %s <- %v\n", name, deps)
	}

	// One sweep with everything still active reclaims nothing.
	engine := track.NewEngine(tracker, track.LRU{}, &track.EngineConfig{
		Interval:  time.Hour,
		BatchSize: 10,
		Action:    track.ActionArchive,
	}, track.WithEvictor(store), track.WithEngineLogger(logger))

	res := engine.Sweep(context.Background())
	fmt.Printf("\nsweep: eligible=%d removed=%d\n", res.Eligible, res.Removed)

	fmt.Println("\nledger:")
	for _, a := range tracker.Snapshot() {
		fmt.Printf("  #%d %-10s status=%-7s accesses=%d changes=%d\n",
			a.ID, a.Name, a.Status, a.AccessCount, a.ChangeCount)
	}
	return nil
}
