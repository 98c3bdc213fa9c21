package atom

// Dependency declares one source of a computed atom, optionally with a
// pure transform applied to the source value before the computed atom's
// read function sees it. Transforms are typed at construction, so a
// mismatched transform fails to compile rather than at runtime.
type Dependency interface {
	// Source returns the source atom descriptor.
	Source() AnyAtom

	// resolve reads the source's current value through r and applies the
	// transform, if any.
	resolve(r valueResolver) any
}

// valueResolver resolves an atom to its current value. The graph
// implements it so that dependencies on registered computed atoms go
// through the computed cache rather than raw store state.
type valueResolver interface {
	resolveValue(a AnyAtom) any
}

type dependency[In, Out any] struct {
	source    *Atom[In]
	transform func(In) Out
}

// On declares a plain dependency on a: the computed atom sees the source
// value unchanged.
func On[T any](a *Atom[T]) Dependency {
	return dependency[T, T]{source: a}
}

// Transform declares a dependency on a whose value is mapped through fn
// before use. fn must be pure.
func Transform[In, Out any](a *Atom[In], fn func(In) Out) Dependency {
	return dependency[In, Out]{source: a, transform: fn}
}

func (d dependency[In, Out]) Source() AnyAtom {
	return d.source
}

func (d dependency[In, Out]) resolve(r valueResolver) any {
	v, _ := r.resolveValue(d.source).(In)
	if d.transform == nil {
		return v
	}
	return d.transform(v)
}
