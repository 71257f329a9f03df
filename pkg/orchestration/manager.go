package orchestration

import (
	"context"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/session"
)

// Manager is the top-level orchestration controller. It resolves the
// active step for a session, filters the tool catalog, reacts to tool
// usage, and accumulates token totals. Step configuration is supplied
// per call; only the session state persists between turns.
type Manager struct {
	sessions       *session.Manager
	sequencer      *Sequencer
	recentToolsCap int
}

// NewManager returns a manager over the session manager.
func NewManager(sessions *session.Manager, cfg *config.OrchestrationConfig) *Manager {
	if cfg == nil {
		cfg = &config.OrchestrationConfig{}
	}
	c := *cfg
	c.SetDefaults()

	return &Manager{
		sessions:       sessions,
		sequencer:      NewSequencer(sessions),
		recentToolsCap: c.RecentToolsCap,
	}
}

// Sequencer exposes the step sequencer.
func (m *Manager) Sequencer() *Sequencer { return m.sequencer }

// EnsureState materializes the session record.
func (m *Manager) EnsureState(ctx context.Context, sessionID string) (*session.State, error) {
	return m.sessions.GetOrCreate(ctx, sessionID)
}

// ResolveStep selects the active step for the session and persists its
// name when it changed. Returns nil when the config yields no step.
func (m *Manager) ResolveStep(ctx context.Context, cfg *Config, sessionID string) (*Step, error) {
	state, err := m.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	step := resolveStep(cfg, state)
	if step == nil {
		return nil, nil
	}

	if step.Name != state.ActiveStep {
		if _, err := m.sessions.SetActiveStep(ctx, sessionID, step.Name); err != nil {
			return nil, err
		}
	}
	return step, nil
}

// resolveStep is the pure resolution rule. Among conditional steps
// whose conditions all hold, the latest in declaration order wins, so a
// pipeline declared in progression order advances to its furthest
// satisfied stage. With no match: the persisted step if it still
// exists, else the default, else nil.
func resolveStep(cfg *Config, state *session.State) *Step {
	if cfg == nil {
		return nil
	}
	var matched *Step
	for i := range cfg.Steps {
		step := &cfg.Steps[i]
		if step.IsDefault || len(step.Conditions) == 0 {
			continue
		}
		if conditionsHold(step, state) {
			matched = step
		}
	}
	if matched != nil {
		return matched
	}

	if state.ActiveStep != "" {
		if step := cfg.Step(state.ActiveStep); step != nil {
			return step
		}
	}
	return cfg.Default()
}

func conditionsHold(step *Step, state *session.State) bool {
	for _, cond := range step.Conditions {
		switch cond.Type {
		case ConditionToolUsed:
			if !contains(state.RecentlyUsedTools, cond.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// AllowedTools resolves the active step and filters the catalog through
// it. With no active step the catalog passes through unchanged.
func (m *Manager) AllowedTools(ctx context.Context, cfg *Config, sessionID string, allToolIDs []string) ([]string, error) {
	step, err := m.ResolveStep(ctx, cfg, sessionID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return append([]string(nil), allToolIDs...), nil
	}

	state, err := m.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.filterTools(step, state, allToolIDs), nil
}

func (m *Manager) filterTools(step *Step, state *session.State, allToolIDs []string) []string {
	if len(step.Sequence) > 0 {
		return m.sequencer.FilterToolsBySequence(step, state, allToolIDs)
	}

	if step.AvailableTools != nil {
		if len(step.AvailableTools.Allowed) > 0 {
			var out []string
			for _, id := range allToolIDs {
				if contains(step.AvailableTools.Allowed, id) {
					out = append(out, id)
				}
			}
			return out
		}
		if len(step.AvailableTools.Denied) > 0 {
			var out []string
			for _, id := range allToolIDs {
				if !contains(step.AvailableTools.Denied, id) {
					out = append(out, id)
				}
			}
			return out
		}
	}
	return append([]string(nil), allToolIDs...)
}

// OnToolUsed records the tool at the head of recentlyUsedTools and
// advances the active step's sequence, in one serialized update.
func (m *Manager) OnToolUsed(ctx context.Context, cfg *Config, sessionID, toolID string) error {
	_, err := m.sessions.Update(ctx, sessionID, func(s *session.State) {
		s.RecentlyUsedTools = pushRecent(s.RecentlyUsedTools, toolID, m.recentToolsCap)
		advanceSequence(cfg.Step(s.ActiveStep), s, toolID)
	})
	return err
}

// pushRecent prepends toolID, removing any earlier occurrence and
// truncating to limit.
func pushRecent(tools []string, toolID string, limit int) []string {
	out := make([]string, 0, len(tools)+1)
	out = append(out, toolID)
	for _, id := range tools {
		if id != toolID {
			out = append(out, id)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AddCumulativeTokens adds one turn's usage to the session totals.
func (m *Manager) AddCumulativeTokens(ctx context.Context, sessionID string, prompt, completion int) error {
	_, err := m.sessions.AddTokenUsage(ctx, sessionID, prompt, completion)
	return err
}

// Reset clears the session's orchestration fields.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	_, err := m.sessions.ResetState(ctx, sessionID)
	return err
}

// Remove deletes the session record.
func (m *Manager) Remove(ctx context.Context, sessionID string) error {
	return m.sessions.CleanupSession(ctx, sessionID)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
