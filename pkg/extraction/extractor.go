// Package extraction turns raw conversation messages into memories at
// a controlled cost: messages buffer per (user, agent), batches fire on
// size, age, or an explicit flush, and a sampling rate decides whether
// a fired batch is processed at all.
package extraction

import (
	"context"
	"strings"

	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/protocol"
)

// Extractor turns a batch of messages into memory records. Extractors
// run in a configured order; the first one that yields results
// short-circuits the rest.
type Extractor interface {
	// Name identifies the extractor in metrics and on the records it
	// produces.
	Name() string

	// Extract returns zero or more memories for the batch. An empty
	// result hands the batch to the next extractor in the chain.
	Extract(ctx context.Context, userID, agentID string, messages []*protocol.Message) ([]*memory.Memory, error)
}

// RuleExtractor is the zero-cost first link of the chain: it matches
// phrasing that signals a durable preference, fact, or procedure.
type RuleExtractor struct{}

// Name implements Extractor.
func (RuleExtractor) Name() string { return "rule" }

type rule struct {
	marker     string
	tier       memory.MemoryType
	importance float64
	keyword    string
}

// Markers are checked in order; the first hit classifies the message.
var rules = []rule{
	{marker: "my name is", tier: memory.TypeSemantic, importance: 0.9, keyword: "identity"},
	{marker: "i am allergic", tier: memory.TypeSemantic, importance: 0.9, keyword: "health"},
	{marker: "always", tier: memory.TypeProcedural, importance: 0.7, keyword: "instruction"},
	{marker: "never", tier: memory.TypeProcedural, importance: 0.7, keyword: "instruction"},
	{marker: "remember", tier: memory.TypeSemantic, importance: 0.8, keyword: "explicit"},
	{marker: "i prefer", tier: memory.TypeSemantic, importance: 0.6, keyword: "preference"},
	{marker: "i like", tier: memory.TypeSemantic, importance: 0.5, keyword: "preference"},
	{marker: "i don't like", tier: memory.TypeSemantic, importance: 0.5, keyword: "preference"},
	{marker: "how to", tier: memory.TypeProcedural, importance: 0.6, keyword: "howto"},
}

// Extract implements Extractor. Only user-authored text is examined.
func (RuleExtractor) Extract(ctx context.Context, userID, agentID string, messages []*protocol.Message) ([]*memory.Memory, error) {
	var out []*memory.Memory
	for _, msg := range messages {
		if msg.Role != protocol.RoleUser {
			continue
		}
		text := protocol.ExtractText(msg)
		lower := strings.ToLower(text)

		for _, r := range rules {
			if !strings.Contains(lower, r.marker) {
				continue
			}
			out = append(out, &memory.Memory{
				Content:          text,
				Type:             r.tier,
				Importance:       r.importance,
				Keywords:         []string{r.keyword},
				SourceMessageIDs: []string{msg.ID},
			})
			break
		}
	}
	return out, nil
}
