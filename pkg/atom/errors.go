package atom

import "errors"

// ErrNoState is returned by Set and Update when the target atom has never
// been materialized in the store. Writing to an atom before its first Get
// or Subscribe is programmer misuse and is never retried.
var ErrNoState = errors.New("atomflow: atom has no state in this store")

// ErrReadOnly is returned by Set and Update when the target atom is a
// derived atom. Derived values are produced by their read function and
// cannot be written directly.
var ErrReadOnly = errors.New("atomflow: atom is read-only")

// ErrNotRegistered is returned by Compute when the atom has no registered
// dependency list in the graph.
var ErrNotRegistered = errors.New("atomflow: atom is not registered as computed")

// ErrAlreadyRegistered is returned by Register when the atom already has a
// dependency list in the graph. Use RemoveComputed first to re-register.
var ErrAlreadyRegistered = errors.New("atomflow: atom is already registered as computed")

// ErrNotDerived is returned by Register when the atom carries no read
// function. Only derived atoms can be registered as computed.
var ErrNotDerived = errors.New("atomflow: atom has no read function")
