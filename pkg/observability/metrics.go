// Package observability exposes OpenTelemetry metrics with a
// Prometheus exporter: turn latency and counts, token totals, recall
// behavior, extraction batch outcomes, and decay sweeps.
package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig controls the metrics subsystem.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// InitMetrics builds the exporter and all instruments. With Enabled
// false a no-op Metrics is returned; every Record method nil-checks its
// instruments.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("agentdock-core"),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter("agentdock")

	turnDuration, err := meter.Float64Histogram(
		"agentdock_turn_duration_seconds",
		metric.WithDescription("Turn handling duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	turns, err := meter.Int64Counter(
		"agentdock_turns_total",
		metric.WithDescription("Total turns handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	turnErrors, err := meter.Int64Counter(
		"agentdock_turn_errors_total",
		metric.WithDescription("Total turn handling errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}

	promptTokens, err := meter.Int64Counter(
		"agentdock_tokens_prompt_total",
		metric.WithDescription("Total prompt tokens reported"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt tokens counter: %w", err)
	}

	completionTokens, err := meter.Int64Counter(
		"agentdock_tokens_completion_total",
		metric.WithDescription("Total completion tokens reported"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion tokens counter: %w", err)
	}

	recallDuration, err := meter.Float64Histogram(
		"agentdock_recall_duration_seconds",
		metric.WithDescription("Recall duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recall duration histogram: %w", err)
	}

	recalls, err := meter.Int64Counter(
		"agentdock_recalls_total",
		metric.WithDescription("Total recall requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recalls counter: %w", err)
	}

	recallResults, err := meter.Int64Histogram(
		"agentdock_recall_results",
		metric.WithDescription("Result count per recall"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recall results histogram: %w", err)
	}

	extractionBatches, err := meter.Int64Counter(
		"agentdock_extraction_batches_total",
		metric.WithDescription("Total extraction batches fired"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction batches counter: %w", err)
	}

	memoriesExtracted, err := meter.Int64Counter(
		"agentdock_memories_extracted_total",
		metric.WithDescription("Total memories produced by extraction"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create memories extracted counter: %w", err)
	}

	decayRemoved, err := meter.Int64Counter(
		"agentdock_decay_removed_total",
		metric.WithDescription("Total memories removed by decay sweeps"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decay removed counter: %w", err)
	}

	return &Metrics{
		registry: registry,
		provider: provider,

		turnDuration:     turnDuration,
		turnsTotal:       turns,
		turnErrorsTotal:  turnErrors,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,

		recallDuration:   recallDuration,
		recallsTotal:     recalls,
		recallResults:    recallResults,
		extractionTotal:  extractionBatches,
		memoriesTotal:    memoriesExtracted,
		decayRemovedTotal: decayRemoved,
	}, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
