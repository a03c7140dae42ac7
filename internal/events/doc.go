// Package events provides the lifecycle event type, a non-blocking batching
// hub, and the emitter interface the studio service uses to report start and
// stop operations. Events are fanned out on a background goroutine to sinks
// such as Prometheus collectors, structured logs, or a Pub/Sub topic. Nothing
// is persisted and emitting never fails a request.
package events
