// Package session tracks per-session orchestration state: the active
// step, the sequence cursor, recently used tools, and cumulative token
// usage. State lives in the storage provider under the "sessions"
// namespace and expires after an idle TTL.
package session

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// TokenUsage accumulates token counts across a session's turns.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates one turn's usage.
func (u *TokenUsage) Add(prompt, completion int) {
	u.Prompt += prompt
	u.Completion += completion
	u.Total += prompt + completion
}

// State is the full per-session record. Transports expose only the
// AIView projection; internal bookkeeping (timestamps) never leaves the
// core.
type State struct {
	ID string `json:"id"`

	// ActiveStep is the name of the orchestration step the session is in,
	// or empty before the first resolution.
	ActiveStep string `json:"active_step,omitempty"`

	// SequenceIndex is the cursor into a sequence-mode step's tool list.
	SequenceIndex int `json:"sequence_index,omitempty"`

	// RecentlyUsedTools is most-recent-first and bounded by the
	// orchestration manager.
	RecentlyUsedTools []string `json:"recently_used_tools,omitempty"`

	CumulativeTokenUsage TokenUsage `json:"cumulative_token_usage"`

	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// AIView is the public subset of session state: identity, orchestration
// position, and token accounting. Timestamps stay internal.
type AIView struct {
	SessionID         string     `json:"session_id"`
	ActiveStep        string     `json:"active_step,omitempty"`
	SequenceIndex     int        `json:"sequence_index"`
	RecentlyUsedTools []string   `json:"recently_used_tools,omitempty"`
	TokenUsage        TokenUsage `json:"token_usage"`
}

// AIView projects the public subset of the state.
func (s *State) AIView() *AIView {
	tools := make([]string, len(s.RecentlyUsedTools))
	copy(tools, s.RecentlyUsedTools)
	return &AIView{
		SessionID:         s.ID,
		ActiveStep:        s.ActiveStep,
		SequenceIndex:     s.SequenceIndex,
		RecentlyUsedTools: tools,
		TokenUsage:        s.CumulativeTokenUsage,
	}
}

// ResetOrchestration clears the orchestration fields while preserving
// identity and accounting.
func (s *State) ResetOrchestration() {
	s.ActiveStep = ""
	s.SequenceIndex = 0
	s.RecentlyUsedTools = nil
}

// decodeState rebuilds a State from the generic JSON form the storage
// layer returns.
func decodeState(raw any) (*State, error) {
	var state State
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &state,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &state, nil
}
