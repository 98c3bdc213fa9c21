// Package atom provides the reactive core of the atomflow runtime.
//
// An Atom is an independently addressable value cell. Writable atoms are
// created with New and carry a literal initial value; derived atoms are
// created with Derived and carry a read function that materializes their
// value from other atoms.
//
// # Store
//
// A Store owns the live state for atoms: the current value, the subscriber
// list, and the set of computed atoms depending on each cell. State is
// created lazily on first access:
//
//	count := atom.New(0, atom.WithName("count"))
//	s := atom.NewStore()
//	value := atom.Get(s, count)   // materializes state, returns 0
//	atom.Set(s, count, 5)         // notifies subscribers synchronously
//
// Set fails with ErrNoState when the atom was never materialized, and with
// ErrReadOnly for derived atoms.
//
// # Dependency graph
//
// A Graph manages computed atoms with explicitly declared dependencies.
// Registration wires invalidation edges; Compute serves cached values while
// they are fresh and recomputes otherwise:
//
//	double := atom.Derived(func(g atom.Getter) int {
//	    return atom.Read(g, count) * 2
//	}, atom.WithName("double"))
//
//	graph := atom.NewGraph(s, atom.WithScheduler(sched))
//	atom.Register(graph, double, []atom.Dependency{atom.On(count)}, nil)
//	v, err := atom.Compute(graph, double)
//
// Invalidations caused by Set are coalesced: however many dependencies
// change within one scheduling tick, each affected computed atom is
// recomputed once, on the next run of the configured Scheduler. Callers
// that need synchronous freshness call Compute directly.
//
// # Observers
//
// Collaborators such as the lifecycle tracker register an Observer on the
// Store to receive access and change notifications. There is no package
// level singleton; every collaborator receives the Store it works against.
package atom
