package atom

import "sync/atomic"

// ID uniquely identifies an atom for the lifetime of the process.
// IDs are monotonically increasing and never reused, which lets stores
// keep per-atom state in a dense slice indexed by ID.
type ID uint64

// globalIDCounter is the source of unique IDs for all atoms.
// Using atomic operations ensures thread-safe ID generation without locks.
var globalIDCounter uint64

// nextID returns the next unique atom ID.
func nextID() ID {
	return ID(atomic.AddUint64(&globalIDCounter, 1))
}
