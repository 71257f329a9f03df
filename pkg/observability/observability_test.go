package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisabledMetricsAreNoop(t *testing.T) {
	m, err := InitMetrics(context.Background(), MetricsConfig{})
	require.NoError(t, err)

	// Every recorder must be safe on the zero value.
	m.RecordTurn(context.Background(), "a", time.Second, nil)
	m.RecordTokens(context.Background(), "a", 10, 5)
	m.RecordRecall(context.Background(), time.Millisecond, 3)
	m.RecordExtractionBatch(context.Background(), true, 2)
	m.RecordDecay(context.Background(), 1)
	require.NoError(t, m.Shutdown(context.Background()))

	var nilMetrics *Metrics
	nilMetrics.RecordTurn(context.Background(), "a", time.Second, nil)
	require.NoError(t, nilMetrics.Shutdown(context.Background()))
}

func TestEnabledMetricsExposePrometheusEndpoint(t *testing.T) {
	ctx := context.Background()
	m, err := InitMetrics(ctx, MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})

	m.RecordTurn(ctx, "agent-1", 250*time.Millisecond, nil)
	m.RecordTurn(ctx, "agent-1", 100*time.Millisecond, errors.New("boom"))
	m.RecordTokens(ctx, "agent-1", 100, 40)
	m.RecordRecall(ctx, 5*time.Millisecond, 7)
	m.RecordExtractionBatch(ctx, true, 3)
	m.RecordDecay(ctx, 2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	text := string(body)
	for _, name := range []string{
		"agentdock_turns_total",
		"agentdock_turn_errors_total",
		"agentdock_tokens_prompt_total",
		"agentdock_recalls_total",
		"agentdock_extraction_batches_total",
		"agentdock_memories_extracted_total",
		"agentdock_decay_removed_total",
	} {
		require.True(t, strings.Contains(text, name), "missing metric %s", name)
	}
}

func TestGlobalMetricsRegistry(t *testing.T) {
	m, err := InitMetrics(context.Background(), MetricsConfig{})
	require.NoError(t, err)

	SetGlobalMetrics(m)
	require.Same(t, m, GetGlobalMetrics())

	SetGlobalMetrics(nil)
	require.Nil(t, GetGlobalMetrics())
}
