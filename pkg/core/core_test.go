package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/orchestration"
	"github.com/agentdock/agentdock-core/pkg/protocol"
	"github.com/agentdock/agentdock-core/pkg/recall"
)

func newTestCore(t *testing.T, cfg *config.Config) *Core {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Extraction.ExtractionRate == 0 {
		cfg.Extraction.ExtractionRate = 1
	}

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c
}

// pipelineConfig is a three-stage pipeline: research by default,
// summarize once search ran, publish in order once summarize ran.
func pipelineConfig() *orchestration.Config {
	return &orchestration.Config{
		Steps: []orchestration.Step{
			{Name: "research", IsDefault: true},
			{
				Name:           "summarize",
				Conditions:     []orchestration.Condition{{Type: orchestration.ConditionToolUsed, Value: "search"}},
				AvailableTools: &orchestration.AvailableTools{Allowed: []string{"summarize"}},
			},
			{
				Name:       "publish",
				Conditions: []orchestration.Condition{{Type: orchestration.ConditionToolUsed, Value: "summarize"}},
				Sequence:   []string{"publish"},
			},
		},
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &config.Config{
		Storage: config.StorageConfig{Type: "cassandra"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid configuration")
}

func TestNewRequiresSQLDatabaseConfig(t *testing.T) {
	_, err := New(context.Background(), &config.Config{
		Storage: config.StorageConfig{Type: config.StorageSQLite},
	})
	require.Error(t, err)
}

func TestHandleTurnRequiresSessionID(t *testing.T) {
	c := newTestCore(t, nil)

	_, err := c.HandleTurn(context.Background(), &TurnRequest{})
	require.ErrorIs(t, err, memory.ErrValidation)

	_, err = c.HandleTurn(context.Background(), nil)
	require.ErrorIs(t, err, memory.ErrValidation)
}

func TestHandleTurnWithoutOrchestration(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()

	catalog := []string{"search", "summarize", "publish"}
	result, err := c.HandleTurn(ctx, &TurnRequest{
		SessionID:      "sess-1",
		AvailableTools: catalog,
	})
	require.NoError(t, err)
	require.Empty(t, result.ActiveStep)
	require.Equal(t, catalog, result.AllowedTools)
	require.NotNil(t, result.State)
}

func TestTurnPipelineAdvancesThroughSteps(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()
	cfg := pipelineConfig()
	catalog := []string{"search", "summarize", "publish", "shell"}

	result, err := c.HandleTurn(ctx, &TurnRequest{
		SessionID:      "sess-1",
		AgentID:        "writer",
		Orchestration:  cfg,
		AvailableTools: catalog,
	})
	require.NoError(t, err)
	require.Equal(t, "research", result.ActiveStep)
	require.Equal(t, catalog, result.AllowedTools)

	require.NoError(t, c.ReportToolUse(ctx, cfg, "sess-1", "search"))

	result, err = c.HandleTurn(ctx, &TurnRequest{
		SessionID:      "sess-1",
		AgentID:        "writer",
		Orchestration:  cfg,
		AvailableTools: catalog,
	})
	require.NoError(t, err)
	require.Equal(t, "summarize", result.ActiveStep)
	require.Equal(t, []string{"summarize"}, result.AllowedTools)

	require.NoError(t, c.ReportToolUse(ctx, cfg, "sess-1", "summarize"))

	result, err = c.HandleTurn(ctx, &TurnRequest{
		SessionID:      "sess-1",
		AgentID:        "writer",
		Orchestration:  cfg,
		AvailableTools: catalog,
	})
	require.NoError(t, err)
	require.Equal(t, "publish", result.ActiveStep)
	require.Equal(t, []string{"publish"}, result.AllowedTools)
	require.Equal(t, []string{"summarize", "search"}, result.State.RecentlyUsedTools)

	require.NoError(t, c.ReportToolUse(ctx, cfg, "sess-1", "publish"))

	// The sequence is exhausted; the public view reports the cursor.
	result, err = c.HandleTurn(ctx, &TurnRequest{
		SessionID:      "sess-1",
		AgentID:        "writer",
		Orchestration:  cfg,
		AvailableTools: catalog,
	})
	require.NoError(t, err)
	require.Equal(t, "publish", result.ActiveStep)
	require.Empty(t, result.AllowedTools)
	require.Equal(t, "sess-1", result.State.SessionID)
	require.Equal(t, 1, result.State.SequenceIndex)
}

func TestReportTokenUsageAccumulates(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()

	require.NoError(t, c.ReportTokenUsage(ctx, "sess-1", "writer", 100, 40))
	require.NoError(t, c.ReportTokenUsage(ctx, "sess-1", "writer", 50, 10))

	view, err := c.Session(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, 150, view.TokenUsage.Prompt)
	require.Equal(t, 50, view.TokenUsage.Completion)
	require.Equal(t, 200, view.TokenUsage.Total)
}

func TestResetSessionKeepsAccounting(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()
	cfg := pipelineConfig()

	require.NoError(t, c.ReportToolUse(ctx, cfg, "sess-1", "search"))
	require.NoError(t, c.ReportTokenUsage(ctx, "sess-1", "writer", 10, 5))
	require.NoError(t, c.ResetSession(ctx, "sess-1"))

	view, err := c.Session(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, view.ActiveStep)
	require.Empty(t, view.RecentlyUsedTools)
	require.Equal(t, 15, view.TokenUsage.Total)
}

func TestTurnMessagesReachExtraction(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()

	_, err := c.HandleTurn(ctx, &TurnRequest{
		UserID:    "alice",
		AgentID:   "writer",
		SessionID: "sess-1",
		Messages: []*protocol.Message{
			protocol.NewTextMessage(protocol.RoleUser, "remember the release is on Friday"),
		},
	})
	require.NoError(t, err)
	require.NoError(t, c.FlushExtraction(ctx, "alice", "writer"))

	stats, err := c.Memory().GetStats(ctx, "alice", "writer")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Count)
}

func TestRecallRoundTrip(t *testing.T) {
	c := newTestCore(t, nil)
	ctx := context.Background()

	_, err := c.Memory().Store(ctx, "alice", "writer", &memory.Memory{
		Content:    "the staging cluster runs postgres 16",
		Type:       memory.TypeSemantic,
		Importance: 0.8,
	})
	require.NoError(t, err)

	results, err := c.Recall(ctx, &recall.Request{
		UserID:  "alice",
		AgentID: "writer",
		Query:   "postgres",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "the staging cluster runs postgres 16", results[0].Memory.Content)
}

func TestApplyDecayUsesConfiguredRules(t *testing.T) {
	cfg := &config.Config{}
	cfg.Memory.Decay = memory.DecayRules{
		Rate:  0.1,
		Floor: 0.05,
	}
	c := newTestCore(t, cfg)
	ctx := context.Background()

	old := time.Now().Add(-60 * 24 * time.Hour)
	_, err := c.Memory().Store(ctx, "alice", "writer", &memory.Memory{
		Content:        "ephemeral note about a one-off lunch order",
		Type:           memory.TypeEpisodic,
		Importance:     0.1,
		Resonance:      0.06,
		LastAccessedAt: old,
		CreatedAt:      old,
	})
	require.NoError(t, err)

	result, err := c.ApplyDecay(ctx, "alice", "writer")
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 1, result.Removed)

	stats, err := c.Memory().GetStats(ctx, "alice", "writer")
	require.NoError(t, err)
	require.Equal(t, 0, stats.Count)
}

func TestCloseShutsEverythingDown(t *testing.T) {
	c, err := New(context.Background(), &config.Config{})
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))
}
