package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"kwork/internal/workqueue"
)

const meterName = "kwork/internal/metrics"

// Metrics records work queue instruments. It implements workqueue.Observer.
type Metrics struct {
	dispatched metric.Int64Counter
	lateness   metric.Int64Histogram
	took       metric.Float64Histogram

	mu  sync.Mutex
	reg metric.Registration
}

// New creates the instruments on meter, or on the global provider when
// meter is nil.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error
	m.dispatched, err = meter.Int64Counter(
		"kwork.workqueue.dispatched",
		metric.WithDescription("Number of work item callbacks completed"),
	)
	if err != nil {
		return nil, fmt.Errorf("create workqueue.dispatched counter: %w", err)
	}
	m.lateness, err = meter.Int64Histogram(
		"kwork.workqueue.lateness_ticks",
		metric.WithDescription("Ticks between an item becoming ready and a worker taking it"),
		metric.WithUnit("{tick}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100, 250, 1000),
	)
	if err != nil {
		return nil, fmt.Errorf("create workqueue.lateness_ticks histogram: %w", err)
	}
	m.took, err = meter.Float64Histogram(
		"kwork.workqueue.callback_duration",
		metric.WithDescription("Duration of work item callbacks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create workqueue.callback_duration histogram: %w", err)
	}
	return m, nil
}

func (m *Metrics) Dispatched(r workqueue.Record) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("queue", r.Queue))
	m.dispatched.Add(ctx, 1, attrs)
	m.lateness.Record(ctx, int64(r.Lateness), attrs)
	m.took.Record(ctx, r.Took.Seconds(), attrs)
}

// ObservePending registers the kwork.workqueue.pending gauge, fed by
// pending (queue name to queued items) at every collection.
func (m *Metrics) ObservePending(meter metric.Meter, pending func() map[string]int) error {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	reg, err := registerPending(meter, pending)
	if err != nil {
		return err
	}
	m.mu.Lock()
	prev := m.reg
	m.reg = reg
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Unregister()
	}
	return nil
}

func registerPending(meter metric.Meter, pending func() map[string]int) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(
		"kwork.workqueue.pending",
		metric.WithDescription("Number of items queued and not yet dispatched"),
	)
	if err != nil {
		return nil, fmt.Errorf("create workqueue.pending gauge: %w", err)
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, n := range pending() {
			o.ObserveInt64(gauge, int64(n), metric.WithAttributes(attribute.String("queue", name)))
		}
		return nil
	}, gauge)
}

// Close unregisters the pending gauge callback.
func (m *Metrics) Close() error {
	m.mu.Lock()
	reg := m.reg
	m.reg = nil
	m.mu.Unlock()
	if reg == nil {
		return nil
	}
	return reg.Unregister()
}
