package core

import (
	"context"
	"fmt"

	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/orchestration"
	"github.com/agentdock/agentdock-core/pkg/protocol"
	"github.com/agentdock/agentdock-core/pkg/session"
)

// TurnRequest describes one turn of a conversation.
type TurnRequest struct {
	UserID    string
	AgentID   string
	SessionID string

	// Messages are the turn's inbound messages; they are fed to the
	// extraction pipeline when a user id is present.
	Messages []*protocol.Message

	// Orchestration is the caller-supplied step machine, nil when the
	// agent runs unconstrained.
	Orchestration *orchestration.Config

	// AvailableTools is the agent's full tool catalog for this turn.
	AvailableTools []string
}

// TurnResult is what the caller needs to run the turn: the resolved
// step, the tools the step permits, and the model-visible state.
type TurnResult struct {
	ActiveStep   string          `json:"active_step,omitempty"`
	AllowedTools []string        `json:"allowed_tools"`
	State        *session.AIView `json:"state"`
}

// HandleTurn resolves the session's step, filters the tool catalog
// accordingly, and queues the turn's messages for extraction.
func (c *Core) HandleTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if req == nil || req.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", memory.ErrValidation)
	}

	start := c.nowFn()
	result, err := c.handleTurn(ctx, req)
	c.metrics.RecordTurn(ctx, req.AgentID, c.nowFn().Sub(start), err)
	return result, err
}

func (c *Core) handleTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	step, err := c.orchestration.ResolveStep(ctx, req.Orchestration, req.SessionID)
	if err != nil {
		return nil, err
	}

	allowed, err := c.orchestration.AllowedTools(ctx, req.Orchestration, req.SessionID, req.AvailableTools)
	if err != nil {
		return nil, err
	}

	if req.UserID != "" && len(req.Messages) > 0 {
		if err := c.extraction.Ingest(ctx, req.UserID, req.AgentID, req.Messages); err != nil {
			return nil, err
		}
	}

	state, err := c.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{
		AllowedTools: allowed,
		State:        state.AIView(),
	}
	if step != nil {
		result.ActiveStep = step.Name
	}
	return result, nil
}

// ReportToolUse records a tool invocation against the session: the
// recently-used list, and the sequence cursor when the step expects it.
func (c *Core) ReportToolUse(ctx context.Context, cfg *orchestration.Config, sessionID, toolID string) error {
	return c.orchestration.OnToolUsed(ctx, cfg, sessionID, toolID)
}

// ReportTokenUsage adds one turn's token counts to the session and the
// metrics.
func (c *Core) ReportTokenUsage(ctx context.Context, sessionID, agentID string, prompt, completion int) error {
	if err := c.orchestration.AddCumulativeTokens(ctx, sessionID, prompt, completion); err != nil {
		return err
	}
	c.metrics.RecordTokens(ctx, agentID, prompt, completion)
	return nil
}

// Session returns the model-visible view of a session, creating it if
// absent.
func (c *Core) Session(ctx context.Context, sessionID string) (*session.AIView, error) {
	state, err := c.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state.AIView(), nil
}

// ResetSession clears a session's orchestration state while keeping its
// token accounting.
func (c *Core) ResetSession(ctx context.Context, sessionID string) error {
	return c.orchestration.Reset(ctx, sessionID)
}

// RemoveSession deletes a session entirely.
func (c *Core) RemoveSession(ctx context.Context, sessionID string) error {
	return c.orchestration.Remove(ctx, sessionID)
}
