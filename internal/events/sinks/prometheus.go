package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/studio-gateway/internal/events"
)

// PrometheusSink exports studio operation counters, an in-flight gauge, and
// remote call latency.
type PrometheusSink struct {
	requested *prometheus.CounterVec
	completed *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	duration  *prometheus.HistogramVec

	tracker *operationTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_operations_requested_total",
			Help: "Studio operations received, partitioned by op.",
		}, []string{"op"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_operations_completed_total",
			Help: "Studio operations finished, partitioned by op and result.",
		}, []string{"op", "result"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "studio_operations_in_flight",
			Help: "Studio operations awaiting the backend.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_operation_duration_seconds",
			Help:    "Wall time of the backend call per operation.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60, 120, 300},
		}, []string{"op", "result"}),
		tracker: newOperationTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.requested,
		s.completed,
		s.inFlight,
		s.duration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	op := string(evt.Stage.Op())
	if op == "" {
		return
	}
	if !evt.Stage.Terminal() {
		s.requested.WithLabelValues(op).Inc()
		if s.tracker.begin(evt.OperationID) {
			s.inFlight.WithLabelValues(op).Inc()
		}
		return
	}
	result := string(evt.Stage.Result())
	s.completed.WithLabelValues(op, result).Inc()
	if evt.Dur > 0 {
		s.duration.WithLabelValues(op, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.finish(evt.OperationID) {
		s.inFlight.WithLabelValues(op).Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type operationTracker struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func newOperationTracker() *operationTracker {
	return &operationTracker{pending: make(map[string]struct{})}
}

func (t *operationTracker) begin(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; ok {
		return false
	}
	t.pending[id] = struct{}{}
	return true
}

func (t *operationTracker) finish(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}
