package external

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// SimilarIncident is one ranked result from VectorMemory's similarity
// search, carrying whatever metadata the caller needs to decide
// whether to act on the match.
type SimilarIncident struct {
	IncidentID string
	Score      float64
	Metadata   map[string]any
}

// VectorMemory is the retrieval boundary spec.md §6 names:
// search_similar_incidents. Per spec.md, it's "restartable; results
// may be stale" — callers must treat every result as a hint, never
// ground truth.
type VectorMemory interface {
	SearchSimilarIncidents(ctx context.Context, query string, limit int, excludeID string) ([]SimilarIncident, error)
}

// MemVectorMemory is an in-memory VectorMemory: kept interface-only
// per spec.md's non-goal on per-cloud SDK bindings (no embedding
// model, no vector database — this module never needs one of its
// own), it backs this package's tests
// with a naive keyword-overlap score instead of a real embedding
// distance, which is enough to exercise every caller of the interface
// without pulling in ML infrastructure the spec explicitly excludes.
type MemVectorMemory struct {
	mu     sync.RWMutex
	corpus map[string]indexedIncident
}

type indexedIncident struct {
	summary  string
	metadata map[string]any
}

// NewMemVectorMemory builds an empty index.
func NewMemVectorMemory() *MemVectorMemory {
	return &MemVectorMemory{corpus: make(map[string]indexedIncident)}
}

// Index registers incidentID's free-text summary for later retrieval.
func (m *MemVectorMemory) Index(incidentID, summary string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corpus[incidentID] = indexedIncident{summary: summary, metadata: metadata}
}

// SearchSimilarIncidents scores every indexed incident by the fraction
// of query's distinct words it shares, descending, excluding excludeID
// and capping at limit.
func (m *MemVectorMemory) SearchSimilarIncidents(_ context.Context, query string, limit int, excludeID string) ([]SimilarIncident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queryWords := wordSet(query)
	if len(queryWords) == 0 || len(m.corpus) == 0 {
		return nil, nil
	}

	results := make([]SimilarIncident, 0, len(m.corpus))
	for id, entry := range m.corpus {
		if id == excludeID {
			continue
		}
		score := overlapScore(queryWords, wordSet(entry.summary))
		if score <= 0 {
			continue
		}
		results = append(results, SimilarIncident{IncidentID: id, Score: score, Metadata: entry.metadata})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].IncidentID < results[j].IncidentID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func overlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}
