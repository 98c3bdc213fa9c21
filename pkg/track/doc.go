// Package track maintains lifecycle metadata for atoms and reclaims unused
// ones to bound memory growth.
//
// A Tracker keeps one TrackedAtom ledger entry per monitored atom: creation
// and access timestamps, access/change counters, TTL, reference count, and a
// derived status (active, idle, stale). It implements atom.Observer, so
// wiring it to a store is one call:
//
//	tracker := track.NewTracker()
//	store.AddObserver(tracker)
//	tracker.Track(count, "count")
//
// The Engine sweeps the tracker on an interval, asks a pluggable Strategy
// (LRU, LFU, FIFO, or time-based) to rank eviction candidates among
// gc-eligible atoms, and applies the configured action: archive into bounded
// storage, hard delete, or notify-only. Every lifecycle transition is
// emitted on the tracker's event stream for inspection tooling.
package track
