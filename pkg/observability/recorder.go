package observability

import (
	"context"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// Metrics records runtime signals. The zero value is a no-op.
type Metrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	turnDuration     metric.Float64Histogram
	turnsTotal       metric.Int64Counter
	turnErrorsTotal  metric.Int64Counter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter

	recallDuration    metric.Float64Histogram
	recallsTotal      metric.Int64Counter
	recallResults     metric.Int64Histogram
	extractionTotal   metric.Int64Counter
	memoriesTotal     metric.Int64Counter
	decayRemovedTotal metric.Int64Counter
}

// RecordTurn records one handled turn.
func (m *Metrics) RecordTurn(ctx context.Context, agentID string, duration time.Duration, err error) {
	if m == nil || m.turnDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("agent", agentID))
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
	m.turnsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.turnErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordTokens records one turn's token usage.
func (m *Metrics) RecordTokens(ctx context.Context, agentID string, prompt, completion int) {
	if m == nil || m.promptTokens == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("agent", agentID))
	m.promptTokens.Add(ctx, int64(prompt), attrs)
	m.completionTokens.Add(ctx, int64(completion), attrs)
}

// RecordRecall records one recall request and its result count.
func (m *Metrics) RecordRecall(ctx context.Context, duration time.Duration, results int) {
	if m == nil || m.recallDuration == nil {
		return
	}

	m.recallDuration.Record(ctx, duration.Seconds())
	m.recallsTotal.Add(ctx, 1)
	m.recallResults.Record(ctx, int64(results))
}

// RecordExtractionBatch records one fired batch.
func (m *Metrics) RecordExtractionBatch(ctx context.Context, sampled bool, extracted int) {
	if m == nil || m.extractionTotal == nil {
		return
	}

	m.extractionTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("sampled", sampled)))
	if extracted > 0 {
		m.memoriesTotal.Add(ctx, int64(extracted))
	}
}

// RecordDecay records the removals of one decay sweep.
func (m *Metrics) RecordDecay(ctx context.Context, removed int) {
	if m == nil || m.decayRemovedTotal == nil {
		return
	}
	if removed > 0 {
		m.decayRemovedTotal.Add(ctx, int64(removed))
	}
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder; may be nil.
func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
