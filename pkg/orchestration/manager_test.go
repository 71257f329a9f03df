package orchestration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdock/agentdock-core/pkg/session"
	"github.com/agentdock/agentdock-core/pkg/storage/memstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	store := memstore.New()
	t.Cleanup(func() {
		_ = store.Destroy(context.Background())
	})

	sessions := session.NewManager(store, nil)
	t.Cleanup(sessions.Close)

	return NewManager(sessions, nil)
}

// Three-step pipeline: search unlocks step_b, summarize unlocks step_c,
// step_c walks a one-tool sequence.
func pipelineConfig() *Config {
	return &Config{Steps: []Step{
		{Name: "step_a", IsDefault: true},
		{
			Name:           "step_b",
			Conditions:     []Condition{{Type: ConditionToolUsed, Value: "search"}},
			AvailableTools: &AvailableTools{Allowed: []string{"summarize"}},
		},
		{
			Name:       "step_c",
			Conditions: []Condition{{Type: ConditionToolUsed, Value: "summarize"}},
			Sequence:   []string{"publish"},
		},
	}}
}

func TestStepTransitionsOnToolUse(t *testing.T) {
	m := newTestManager(t)
	cfg := pipelineConfig()
	ctx := context.Background()
	all := []string{"summarize", "publish", "search"}

	// No recent tools: fall back to the default step, full catalog.
	step, err := m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "step_a", step.Name)

	tools, err := m.AllowedTools(ctx, cfg, "s1", all)
	require.NoError(t, err)
	require.Equal(t, all, tools)

	// search → step_b, restricted to its allowed list.
	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "search"))

	step, err = m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "step_b", step.Name)

	tools, err = m.AllowedTools(ctx, cfg, "s1", all)
	require.NoError(t, err)
	require.Equal(t, []string{"summarize"}, tools)

	// summarize → step_c, sequence offers its first tool.
	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "summarize"))

	step, err = m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "step_c", step.Name)

	tools, err = m.AllowedTools(ctx, cfg, "s1", all)
	require.NoError(t, err)
	require.Equal(t, []string{"publish"}, tools)

	// publish exhausts the sequence: no tools remain.
	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "publish"))

	tools, err = m.AllowedTools(ctx, cfg, "s1", all)
	require.NoError(t, err)
	require.Empty(t, tools)
}

func TestResolveStepIsDeterministic(t *testing.T) {
	m := newTestManager(t)
	cfg := pipelineConfig()
	ctx := context.Background()

	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "search"))

	for i := 0; i < 5; i++ {
		step, err := m.ResolveStep(ctx, cfg, "s1")
		require.NoError(t, err)
		require.Equal(t, "step_b", step.Name)
	}
}

func TestResolveStepReusesPersistedStep(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cfg := &Config{Steps: []Step{
		{Name: "gated", Conditions: []Condition{{Type: ConditionToolUsed, Value: "open"}}},
	}}

	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "open"))
	step, err := m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "gated", step.Name)

	// The condition no longer holds once "open" falls off the recent
	// list, but the persisted step still exists in the config.
	_, err = m.sessions.Update(ctx, "s1", func(s *session.State) {
		s.RecentlyUsedTools = nil
	})
	require.NoError(t, err)

	step, err = m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "gated", step.Name)

	// A config that dropped the step and has no default yields no step.
	step, err = m.ResolveStep(ctx, &Config{}, "s1")
	require.NoError(t, err)
	require.Nil(t, step)
}

func TestResolveStepSkipsConditionlessSteps(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cfg := &Config{Steps: []Step{
		{Name: "never"},
		{Name: "fallback", IsDefault: true},
	}}

	step, err := m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "fallback", step.Name)
}

func TestAllConditionsMustHold(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cfg := &Config{Steps: []Step{
		{Name: "both", Conditions: []Condition{
			{Type: ConditionToolUsed, Value: "a"},
			{Type: ConditionToolUsed, Value: "b"},
		}},
		{Name: "fallback", IsDefault: true},
	}}

	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "a"))
	step, err := m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "fallback", step.Name)

	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "b"))
	step, err = m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)
	require.Equal(t, "both", step.Name)
}

func TestAllowedToolsSoundness(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	all := []string{"a", "b", "c"}

	tests := []struct {
		name string
		step Step
		want []string
	}{
		{
			name: "allowed intersection",
			step: Step{Name: "s", IsDefault: true,
				AvailableTools: &AvailableTools{Allowed: []string{"b", "ghost"}}},
			want: []string{"b"},
		},
		{
			name: "denied subtraction",
			step: Step{Name: "s", IsDefault: true,
				AvailableTools: &AvailableTools{Denied: []string{"a", "c"}}},
			want: []string{"b"},
		},
		{
			name: "no filter passes through",
			step: Step{Name: "s", IsDefault: true},
			want: []string{"a", "b", "c"},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Steps: []Step{tt.step}}
			tools, err := m.AllowedTools(ctx, cfg, fmt.Sprintf("sound-%d", i), all)
			require.NoError(t, err)
			require.Equal(t, tt.want, tools)

			for _, id := range tools {
				require.Contains(t, all, id)
			}
		})
	}
}

func TestAllowedToolsWithoutStepPassesThrough(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tools, err := m.AllowedTools(ctx, &Config{}, "s1", []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, tools)
}

func TestSequenceMonotonicity(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cfg := &Config{Steps: []Step{
		{Name: "seq", IsDefault: true, Sequence: []string{"first", "second"}},
	}}

	_, err := m.ResolveStep(ctx, cfg, "s1")
	require.NoError(t, err)

	// A tool that is not the expected one never moves the cursor.
	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "second"))
	state, err := m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 0, state.SequenceIndex)

	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "first"))
	state, err = m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, state.SequenceIndex)

	// Replaying an already-consumed tool never rewinds.
	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "first"))
	state, err = m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, state.SequenceIndex)

	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "second"))
	state, err = m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, state.SequenceIndex)

	// Exhausted sequence: cursor parks past the end.
	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "second"))
	state, err = m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, state.SequenceIndex)

	// Reset is the only rewind.
	require.NoError(t, m.Reset(ctx, "s1"))
	state, err = m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 0, state.SequenceIndex)
}

func TestRecentToolsDedupAndCap(t *testing.T) {
	m := newTestManager(t)
	cfg := &Config{}
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", fmt.Sprintf("tool-%d", i)))
	}

	state, err := m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, state.RecentlyUsedTools, 20)
	require.Equal(t, "tool-24", state.RecentlyUsedTools[0])

	// Re-using a tool moves it to the head without growing the list.
	require.NoError(t, m.OnToolUsed(ctx, cfg, "s1", "tool-10"))
	state, err = m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, state.RecentlyUsedTools, 20)
	require.Equal(t, "tool-10", state.RecentlyUsedTools[0])
}

func TestAddCumulativeTokens(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddCumulativeTokens(ctx, "s1", 100, 40))
	require.NoError(t, m.AddCumulativeTokens(ctx, "s1", 10, 5))

	state, err := m.EnsureState(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 110, state.CumulativeTokenUsage.Prompt)
	require.Equal(t, 45, state.CumulativeTokenUsage.Completion)
	require.Equal(t, 155, state.CumulativeTokenUsage.Total)
}
