package atom

import "fmt"

// Getter reads other atoms while a derived atom's read function executes.
// Dependency resolution happens as the function runs: every atom passed to
// the getter is materialized in the store on demand.
type Getter func(a AnyAtom) any

// Read returns a dependency's value through a Getter with its static type.
// It is the typed companion to Getter for use inside read functions:
//
//	double := atom.Derived(func(g atom.Getter) int {
//	    return atom.Read(g, count) * 2
//	})
func Read[T any](g Getter, a *Atom[T]) T {
	v, _ := g(a).(T)
	return v
}

// AnyAtom is the type-erased view of an atom descriptor. It is implemented
// by Atom[T] for every T; external packages interact with atoms through
// this interface when the value type does not matter.
type AnyAtom interface {
	// AtomID returns the atom's stable identity.
	AtomID() ID

	// Name returns the display name, or a generated "atom#<id>" fallback.
	Name() string

	// writable reports whether the atom accepts direct writes.
	writable() bool

	// materialize produces the atom's value: the initial value for writable
	// atoms, or the result of the read function for derived atoms.
	materialize(get Getter) any
}

// Atom describes how to produce a value. It is immutable once created:
// the descriptor carries identity, an optional display name, and either a
// literal initial value or a read function over other atoms. Live state
// (current value, subscribers, dependents) is owned by a Store.
type Atom[T any] struct {
	id      ID
	name    string
	initial T
	read    func(Getter) T
}

// Option configures an atom descriptor at creation time.
type Option func(*options)

type options struct {
	name string
}

// WithName sets the atom's display name, used in logs, the dependency
// graph listing, and lifecycle tracking.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// New creates a writable atom with the given initial value.
func New[T any](initial T, opts ...Option) *Atom[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Atom[T]{
		id:      nextID(),
		name:    o.name,
		initial: initial,
	}
}

// Derived creates a read-only atom whose value is produced by read.
// The read function runs lazily on first access and receives a Getter for
// resolving other atoms.
func Derived[T any](read func(Getter) T, opts ...Option) *Atom[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Atom[T]{
		id:   nextID(),
		name: o.name,
		read: read,
	}
}

// AtomID returns the atom's stable identity.
func (a *Atom[T]) AtomID() ID {
	return a.id
}

// Name returns the display name, or a generated fallback when unnamed.
func (a *Atom[T]) Name() string {
	if a.name != "" {
		return a.name
	}
	return fmt.Sprintf("atom#%d", a.id)
}

func (a *Atom[T]) writable() bool {
	return a.read == nil
}

func (a *Atom[T]) materialize(get Getter) any {
	if a.read != nil {
		return a.read(get)
	}
	return a.initial
}
