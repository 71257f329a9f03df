// Package memory defines the four-tier memory model: records, typed
// connections, recall options, decay rules, and the Operations contracts
// that storage backends implement.
//
// Tiers: working (short-lived scratch), episodic (events), semantic
// (durable facts, exempt from decay eviction), procedural (how-to
// knowledge). Every record is owned by a (user, agent) pair and user
// isolation is enforced at this layer's boundaries.
package memory

import (
	"fmt"
	"time"
)

// MemoryType is the retention tier of a memory record.
type MemoryType string

const (
	TypeWorking    MemoryType = "working"
	TypeEpisodic   MemoryType = "episodic"
	TypeSemantic   MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
)

// Valid reports whether t is a known tier.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	}
	return false
}

// AllTypes returns every tier, in retention order.
func AllTypes() []MemoryType {
	return []MemoryType{TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural}
}

// EmbeddingRef describes the vector attached to a memory, without
// carrying the vector itself.
type EmbeddingRef struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Memory is a single memory record.
type Memory struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	AgentID        string     `json:"agent_id"`
	Content        string     `json:"content"`
	Type           MemoryType `json:"type"`
	Importance     float64    `json:"importance"`
	Resonance      float64    `json:"resonance"`
	AccessCount    int        `json:"access_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`

	SessionID        string         `json:"session_id,omitempty"`
	Keywords         []string       `json:"keywords,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ExtractionMethod string         `json:"extraction_method,omitempty"`
	TokenCount       int            `json:"token_count,omitempty"`
	BatchID          string         `json:"batch_id,omitempty"`
	SourceMessageIDs []string       `json:"source_message_ids,omitempty"`
	Embedding        *EmbeddingRef  `json:"embedding,omitempty"`
}

// Validate checks the fields a caller must supply before storing.
func (m *Memory) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if m.AgentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if m.Type != "" && !m.Type.Valid() {
		return fmt.Errorf("%w: unknown memory type %q", ErrValidation, m.Type)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("%w: importance must be in [0,1], got %v", ErrValidation, m.Importance)
	}
	if m.Resonance < 0 {
		return fmt.Errorf("%w: resonance must be >= 0, got %v", ErrValidation, m.Resonance)
	}
	return nil
}

// ConnectionType classifies an edge between two memories.
type ConnectionType string

const (
	ConnRelated  ConnectionType = "related"
	ConnCauses   ConnectionType = "causes"
	ConnPartOf   ConnectionType = "part_of"
	ConnSimilar  ConnectionType = "similar"
	ConnOpposite ConnectionType = "opposite"
)

// Valid reports whether t is a known connection type.
func (t ConnectionType) Valid() bool {
	switch t {
	case ConnRelated, ConnCauses, ConnPartOf, ConnSimilar, ConnOpposite:
		return true
	}
	return false
}

// Connection is a directed edge between two memories of the same user.
// Edges are unique per (source, target) pair; on conflict the stored
// strength is the max of old and new.
type Connection struct {
	SourceID  string         `json:"source_id"`
	TargetID  string         `json:"target_id"`
	Type      ConnectionType `json:"type"`
	Strength  float64        `json:"strength"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Validate checks the edge fields.
func (c *Connection) Validate() error {
	if c.SourceID == "" || c.TargetID == "" {
		return fmt.Errorf("%w: connection requires source and target ids", ErrValidation)
	}
	if c.SourceID == c.TargetID {
		return fmt.Errorf("%w: connection cannot be self-referential", ErrValidation)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown connection type %q", ErrValidation, c.Type)
	}
	if c.Strength < 0 || c.Strength > 1 {
		return fmt.Errorf("%w: connection strength must be in [0,1], got %v", ErrValidation, c.Strength)
	}
	return nil
}

// TimeRange bounds a recall by creation time. Zero bounds are open.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// RecallOptions narrows a text recall. Zero values mean "no filter".
type RecallOptions struct {
	// Types restricts results to the given tiers.
	Types []MemoryType

	// MinImportance and MinResonance are inclusive floors.
	MinImportance float64
	MinResonance  float64

	// Keywords requires every listed keyword to be present on the record.
	Keywords []string

	// TimeRange bounds created_at.
	TimeRange *TimeRange

	// SessionID restricts to memories captured in one session.
	SessionID string

	// Limit caps the result count (default 20).
	Limit int

	// SkipAccessUpdate suppresses the fire-and-forget access-stat write.
	SkipAccessUpdate bool
}

// SetDefaults applies default values.
func (o *RecallOptions) SetDefaults() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
}

// WantsType reports whether a tier passes the Types filter.
func (o *RecallOptions) WantsType(t MemoryType) bool {
	if len(o.Types) == 0 {
		return true
	}
	for _, want := range o.Types {
		if want == t {
			return true
		}
	}
	return false
}

// Update is a partial memory patch. Nil fields are left unchanged.
type Update struct {
	Content    *string        `json:"content,omitempty"`
	Type       *MemoryType    `json:"type,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	Resonance  *float64       `json:"resonance,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  *EmbeddingRef  `json:"embedding,omitempty"`
}

// Apply patches m in place and bumps updated_at.
func (u *Update) Apply(m *Memory, now time.Time) {
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Type != nil {
		m.Type = *u.Type
	}
	if u.Importance != nil {
		m.Importance = *u.Importance
	}
	if u.Resonance != nil {
		m.Resonance = *u.Resonance
	}
	if u.Keywords != nil {
		m.Keywords = u.Keywords
	}
	if u.Metadata != nil {
		m.Metadata = u.Metadata
	}
	if u.Embedding != nil {
		m.Embedding = u.Embedding
	}
	m.UpdatedAt = now
}

// DecayRules parameterizes a resonance decay sweep.
type DecayRules struct {
	// Rate is the exponential decay constant per day of inactivity.
	Rate float64 `yaml:"rate" json:"rate"`

	// ImportanceWeight is the importance contribution added back each sweep.
	ImportanceWeight float64 `yaml:"importance_weight" json:"importance_weight"`

	// AccessBoost scales the ln(accessCount+1) reinforcement term.
	AccessBoost float64 `yaml:"access_boost" json:"access_boost"`

	// Floor is the resonance below which non-semantic memories are removed.
	Floor float64 `yaml:"floor" json:"floor"`
}

// SetDefaults applies default values.
func (r *DecayRules) SetDefaults() {
	if r.Floor == 0 {
		r.Floor = 0.01
	}
}

// Validate checks the decay parameters.
func (r *DecayRules) Validate() error {
	if r.Rate < 0 {
		return fmt.Errorf("%w: decay rate must be >= 0", ErrValidation)
	}
	if r.Floor < 0 {
		return fmt.Errorf("%w: resonance floor must be >= 0", ErrValidation)
	}
	return nil
}

// DecayResult summarizes one decay sweep.
type DecayResult struct {
	Processed int `json:"processed"`
	Decayed   int `json:"decayed"`
	Removed   int `json:"removed"`
}

// Stats aggregates a user's (or user+agent's) memory footprint.
type Stats struct {
	Count         int                `json:"count"`
	CountByType   map[MemoryType]int `json:"count_by_type"`
	AvgImportance float64            `json:"avg_importance"`
	SizeBytes     int64              `json:"size_bytes"`
}

// Graph is the result of a connection traversal: every memory reached
// plus every edge whose endpoints are both in the reached set.
type Graph struct {
	Memories    []*Memory     `json:"memories"`
	Connections []*Connection `json:"connections"`
}
