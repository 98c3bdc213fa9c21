// Package inspect exposes the runtime's internals over HTTP for debugging
// and visualization tooling: the lifecycle ledger, the dependency graph,
// cycle diagnostics, cleanup stats, Prometheus metrics, and a WebSocket
// stream of lifecycle events.
//
// The server is read-mostly; the only mutating endpoints are the manual
// sweep trigger and archive restore. It is meant to be bound to localhost
// or put behind whatever auth the embedding application already has.
package inspect
