// Package sinks implements lifecycle event consumers: Prometheus collectors,
// structured logging, and a publisher that forwards events to a message topic.
// Each sink satisfies events.Sink.
package sinks
