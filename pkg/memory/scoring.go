package memory

import (
	"math"
	"sort"
	"time"
)

// Composite relevance weights for deterministic recall.
const (
	relevanceImportanceWeight = 0.3
	relevanceResonanceWeight  = 0.2
	relevanceRecencyWeight    = 0.5
)

// rrfK is the rank-fusion smoothing constant.
const rrfK = 60

// RelevanceScore computes the composite recall score:
//
//	0.3·importance + 0.2·resonance + 0.5·(1 / (1 + ageDays))
//
// where ageDays is measured from the last access.
func RelevanceScore(m *Memory, now time.Time) float64 {
	ageDays := now.Sub(m.LastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return relevanceImportanceWeight*m.Importance +
		relevanceResonanceWeight*m.Resonance +
		relevanceRecencyWeight*(1/(1+ageDays))
}

// SortByRelevance orders memories by descending relevance score,
// breaking ties on newer created_at.
func SortByRelevance(memories []*Memory, now time.Time) {
	sort.SliceStable(memories, func(i, j int) bool {
		si, sj := RelevanceScore(memories[i], now), RelevanceScore(memories[j], now)
		if si != sj {
			return si > sj
		}
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
}

// NextResonance computes the post-decay resonance:
//
//	r' = r·exp(−rate·ageDays) + importance·importanceWeight + ln(accessCount+1)·accessBoost
func NextResonance(m *Memory, rules *DecayRules, now time.Time) float64 {
	ageDays := now.Sub(m.LastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return m.Resonance*math.Exp(-rules.Rate*ageDays) +
		m.Importance*rules.ImportanceWeight +
		math.Log(float64(m.AccessCount)+1)*rules.AccessBoost
}

// RankedList is one input ranking for reciprocal rank fusion.
type RankedList struct {
	Weight float64
	IDs    []string
}

// FuseRRF merges rankings by reciprocal rank fusion: a result at rank r
// (1-based) in a list contributes weight·1/(k+r) to its fused score.
func FuseRRF(lists ...RankedList) map[string]float64 {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list.IDs {
			scores[id] += list.Weight * (1 / float64(rrfK+rank+1))
		}
	}
	return scores
}

// TopIDs returns up to limit ids ordered by descending fused score,
// breaking ties lexicographically for determinism.
func TopIDs(scores map[string]float64, limit int) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
