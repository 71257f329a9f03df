package orchestration

import (
	"context"

	"github.com/agentdock/agentdock-core/pkg/session"
)

// Sequencer tracks the cursor inside a sequence-mode step. The cursor
// lives in the session state; the sequencer only interprets it.
type Sequencer struct {
	sessions *session.Manager
}

// NewSequencer returns a sequencer over the session manager.
func NewSequencer(sessions *session.Manager) *Sequencer {
	return &Sequencer{sessions: sessions}
}

// FilterToolsBySequence returns at most the single tool at the
// session's sequence cursor, intersected with the caller's catalog.
// An exhausted sequence yields no tools.
func (q *Sequencer) FilterToolsBySequence(step *Step, state *session.State, allToolIDs []string) []string {
	if state.SequenceIndex >= len(step.Sequence) {
		return []string{}
	}

	expected := step.Sequence[state.SequenceIndex]
	for _, id := range allToolIDs {
		if id == expected {
			return []string{expected}
		}
	}
	return []string{}
}

// Advance moves the cursor forward when the observed tool is the one
// the sequence expects. Any other tool leaves the cursor in place; the
// cursor never rewinds.
func (q *Sequencer) Advance(ctx context.Context, step *Step, sessionID, toolID string) error {
	_, err := q.sessions.Update(ctx, sessionID, func(s *session.State) {
		advanceSequence(step, s, toolID)
	})
	return err
}

// advanceSequence is the pure cursor move, shared with the manager's
// combined tool-use update.
func advanceSequence(step *Step, state *session.State, toolID string) {
	if step == nil || state.SequenceIndex >= len(step.Sequence) {
		return
	}
	if step.Sequence[state.SequenceIndex] == toolID {
		state.SequenceIndex++
	}
}
