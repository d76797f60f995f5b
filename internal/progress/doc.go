// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces used to report batch analysis progress. Events are batched on a
// background goroutine and fanned out to pluggable sinks such as Prometheus
// metrics or an in-memory status store.
package progress
