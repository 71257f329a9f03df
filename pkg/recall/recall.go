// Package recall implements cross-tier memory retrieval: tiers are
// queried in parallel, results are merged and re-scored under the
// configured hybrid weights, and top results can be expanded through
// the connection graph.
package recall

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentdock/agentdock-core/pkg/config"
	"github.com/agentdock/agentdock-core/pkg/memory"
)

// Request describes one recall.
type Request struct {
	UserID  string
	AgentID string
	Query   string

	// Tiers to search; empty means all four.
	Tiers []memory.MemoryType

	// Limit caps the result count; zero uses the configured default.
	Limit int

	// MinRelevance drops results scoring below it; zero uses the
	// configured default.
	MinRelevance float64

	// TimeRange bounds created_at.
	TimeRange *memory.TimeRange

	// IncludeRelated expands each result through the connection graph.
	IncludeRelated bool
}

// Result is one scored recall hit.
type Result struct {
	Memory *memory.Memory `json:"memory"`
	Score  float64        `json:"score"`

	// Related holds graph neighbours when the request asked for them.
	Related []*memory.Memory `json:"related,omitempty"`
}

// Service fans recall out across tiers and fuses the results.
type Service struct {
	ops   memory.Operations
	vec   memory.VectorOperations
	cfg   config.RecallConfig
	nowFn func() time.Time
	cache *queryCache
}

// Option adjusts Service construction.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(nowFn func() time.Time) Option {
	return func(s *Service) { s.nowFn = nowFn }
}

// NewService builds a recall service. vec may be nil when the backend
// has no vector capability; the vector signal then contributes nothing.
func NewService(ops memory.Operations, vec memory.VectorOperations, cfg *config.RecallConfig, opts ...Option) *Service {
	if cfg == nil {
		cfg = &config.RecallConfig{}
	}
	c := *cfg
	c.SetDefaults()

	s := &Service{
		ops:   ops,
		vec:   vec,
		cfg:   c,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if c.CacheTTL > 0 {
		s.cache = newQueryCache(c.CacheTTL, s.nowFn)
	}
	return s
}

// Recall runs the full pipeline: fan out, merge, score, filter, rank,
// truncate, and optionally expand.
func (s *Service) Recall(ctx context.Context, req *Request) ([]*Result, error) {
	if req == nil || req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrValidation)
	}

	tiers := req.Tiers
	if len(tiers) == 0 {
		tiers = memory.AllTypes()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	minRelevance := req.MinRelevance
	if minRelevance <= 0 {
		minRelevance = s.cfg.MinRelevance
	}

	var cacheKey string
	if s.cache != nil {
		cacheKey = s.cache.key(req, tiers, limit, minRelevance)
		if results, ok := s.cache.get(cacheKey); ok {
			return results, nil
		}
	}

	merged, vectorRank, err := s.fanOut(ctx, req, tiers, limit)
	if err != nil {
		return nil, err
	}

	results := s.score(merged, vectorRank, req.Query)

	filtered := results[:0]
	for _, r := range results {
		if r.Score >= minRelevance {
			filtered = append(filtered, r)
		}
	}
	results = filtered

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Memory.CreatedAt.Equal(results[j].Memory.CreatedAt) {
			return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if req.IncludeRelated {
		if err := s.expandRelated(ctx, req.UserID, results); err != nil {
			return nil, err
		}
	}

	if s.cache != nil {
		s.cache.put(cacheKey, results)
	}
	return results, nil
}

// fanOut queries every requested tier — and the vector index when
// present — in parallel, merging hits by id.
func (s *Service) fanOut(ctx context.Context, req *Request, tiers []memory.MemoryType, limit int) (map[string]*memory.Memory, map[string]int, error) {
	g, gctx := errgroup.WithContext(ctx)

	tierHits := make([][]*memory.Memory, len(tiers))
	for i, tier := range tiers {
		g.Go(func() error {
			hits, err := s.ops.Recall(gctx, req.UserID, req.AgentID, req.Query, &memory.RecallOptions{
				Types:     []memory.MemoryType{tier},
				TimeRange: req.TimeRange,
				Limit:     limit,
			})
			if err != nil {
				return fmt.Errorf("tier %s: %w", tier, err)
			}
			tierHits[i] = hits
			return nil
		})
	}

	var vectorHits []*memory.Memory
	if s.vec != nil && req.Query != "" {
		g.Go(func() error {
			hits, err := s.vec.SearchByText(gctx, req.UserID, req.AgentID, req.Query, limit)
			if err != nil {
				// The lexical tiers still answer; the vector signal just
				// drops out of the blend.
				return nil
			}
			vectorHits = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	wanted := make(map[memory.MemoryType]bool, len(tiers))
	for _, tier := range tiers {
		wanted[tier] = true
	}

	merged := make(map[string]*memory.Memory)
	for _, hits := range tierHits {
		for _, m := range hits {
			merged[m.ID] = m
		}
	}

	vectorRank := make(map[string]int, len(vectorHits))
	for rank, m := range vectorHits {
		if !wanted[m.Type] {
			continue
		}
		vectorRank[m.ID] = rank
		if _, ok := merged[m.ID]; !ok {
			merged[m.ID] = m
		}
	}
	return merged, vectorRank, nil
}

// score blends the four hybrid signals for every merged hit.
func (s *Service) score(merged map[string]*memory.Memory, vectorRank map[string]int, query string) []*Result {
	w := s.cfg.HybridWeights
	now := s.nowFn()

	results := make([]*Result, 0, len(merged))
	for id, m := range merged {
		score := w.Text * textScore(m, query)
		score += w.Temporal * recencyScore(m, now)
		if m.Type == memory.TypeProcedural {
			score += w.Procedural
		}
		if rank, ok := vectorRank[id]; ok {
			score += w.Vector * (1 / float64(1+rank))
		}
		results = append(results, &Result{Memory: m, Score: score})
	}
	return results
}

// textScore is 1 for a full substring match, else the fraction of
// query terms present in the content.
func textScore(m *memory.Memory, query string) float64 {
	if query == "" {
		return 0
	}
	content := strings.ToLower(m.Content)
	q := strings.ToLower(query)
	if strings.Contains(content, q) {
		return 1
	}

	terms := strings.Fields(q)
	if len(terms) == 0 {
		return 0
	}
	hit := 0
	for _, term := range terms {
		if strings.Contains(content, term) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

func recencyScore(m *memory.Memory, now time.Time) float64 {
	ageDays := now.Sub(m.LastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1 / (1 + ageDays)
}

// expandRelated attaches graph neighbours to every result.
func (s *Service) expandRelated(ctx context.Context, userID string, results []*Result) error {
	for _, r := range results {
		graph, err := s.ops.FindConnected(ctx, userID, r.Memory.ID, s.cfg.MaxRelatedDepth, 0)
		if err != nil {
			return fmt.Errorf("expand %s: %w", r.Memory.ID, err)
		}
		for _, m := range graph.Memories {
			if m.ID != r.Memory.ID {
				r.Related = append(r.Related, m)
			}
		}
	}
	return nil
}
