package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atomflow-dev/atomflow/pkg/atom"
	"github.com/atomflow-dev/atomflow/pkg/inspect"
	"github.com/atomflow-dev/atomflow/pkg/track"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		interval  time.Duration
		batchSize int
		strategy  string
		action    string
		idleAfter time.Duration
		ttl       time.Duration
		logJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime with the inspection server",
		Long: `Run the atom runtime with the cleanup engine and inspection server.

The inspection server exposes the lifecycle ledger, the dependency
graph, cycle diagnostics, Prometheus metrics, and a WebSocket stream
of lifecycle events.

Examples:
  atomflow serve
  atomflow serve --addr=:9090 --strategy=lfu --action=delete
  atomflow serve --sweep-interval=10s --batch-size=50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveOptions{
				addr:      addr,
				interval:  interval,
				batchSize: batchSize,
				strategy:  strategy,
				action:    action,
				idleAfter: idleAfter,
				ttl:       ttl,
				logJSON:   logJSON,
			})
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8090", "Inspection server listen address")
	cmd.Flags().DurationVar(&interval, "sweep-interval", 30*time.Second, "Time between cleanup sweeps")
	cmd.Flags().IntVar(&batchSize, "batch-size", 10, "Maximum atoms reclaimed per sweep")
	cmd.Flags().StringVar(&strategy, "strategy", "lru", "Cleanup strategy: lru, lfu, fifo, time")
	cmd.Flags().StringVar(&action, "action", "archive", "Cleanup action: archive, delete, notify")
	cmd.Flags().DurationVar(&idleAfter, "idle-after", time.Minute, "Idle time before an atom is reclaimable")
	cmd.Flags().DurationVar(&ttl, "ttl", 10*time.Minute, "Fallback TTL for the time strategy")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs")

	return cmd
}

type serveOptions struct {
	addr      string
	interval  time.Duration
	batchSize int
	strategy  string
	action    string
	idleAfter time.Duration
	ttl       time.Duration
	logJSON   bool
}

func runServe(opts serveOptions) error {
	logger := newLogger(opts.logJSON)
	slog.SetDefault(logger)

	strategy, err := strategyByName(opts.strategy, opts.ttl)
	if err != nil {
		return err
	}
	action, err := actionByName(opts.action)
	if err != nil {
		return err
	}

	store := atom.NewStore(atom.WithStoreLogger(logger))
	graph := atom.NewGraph(store, atom.WithGraphLogger(logger))
	defer graph.Close()

	tracker := track.NewTracker(
		track.WithTrackerLogger(logger),
		track.WithTrackerConfig(&track.TrackerConfig{
			IdleThreshold:  opts.idleAfter,
			StaleThreshold: 5 * opts.idleAfter,
		}),
	)
	store.AddObserver(tracker)

	metrics := track.NewMetrics()
	unbind := metrics.BindTracker(tracker)
	defer unbind()

	engine := track.NewEngine(tracker, strategy, &track.EngineConfig{
		Interval:    opts.interval,
		BatchSize:   opts.batchSize,
		Action:      action,
		MaxArchived: 128,
	},
		track.WithEvictor(store),
		track.WithEngineLogger(logger),
		track.WithEngineMetrics(metrics),
	)
	engine.Start()
	defer engine.Stop()

	server := inspect.NewServer(graph, tracker, engine,
		inspect.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("atomflow runtime started",
		"addr", opts.addr,
		"strategy", strategy.Name(),
		"action", action.String())
	return server.Serve(ctx, opts.addr)
}

func newLogger(jsonOut bool) *slog.Logger {
	if jsonOut {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func strategyByName(name string, ttl time.Duration) (track.Strategy, error) {
	switch name {
	case "lru":
		return track.LRU{}, nil
	case "lfu":
		return track.LFU{}, nil
	case "fifo":
		return track.FIFO{}, nil
	case "time":
		return track.NewTimeBased(ttl), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (want lru, lfu, fifo, or time)", name)
	}
}

func actionByName(name string) (track.Action, error) {
	switch name {
	case "archive":
		return track.ActionArchive, nil
	case "delete":
		return track.ActionDelete, nil
	case "notify":
		return track.ActionNotify, nil
	default:
		return 0, fmt.Errorf("unknown action %q (want archive, delete, or notify)", name)
	}
}
