// Package serviceindex implements the vector-retrieval half of the control
// plane's service-registry duality (spec.md §4.4): below
// services_retrieval_threshold the registry hands the orchestrator every
// registered ServiceDefinition; above it, Index retrieves the top-k by
// similarity to the task input. Embedding back-ends are explicitly out of
// scope (spec.md §1), so similarity here is plain term-frequency cosine
// similarity over whitespace-tokenized, lower-cased text — no external
// collaborator is required to satisfy the orchestrator's retrieval
// contract.
package serviceindex

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/taskmesh/taskmesh/internal/services"
)

// Index is a searchable collection of ServiceDefinitions. Unlike the
// original's object index, Delete is a real operation (resolving spec.md
// §9's open question in favor of the preferred option).
type Index struct {
	mu       sync.RWMutex
	vectors  map[string]map[string]float64 // service_name -> term -> tf
	services map[string]services.ServiceDefinition
}

// New builds an empty index.
func New() *Index {
	return &Index{
		vectors:  make(map[string]map[string]float64),
		services: make(map[string]services.ServiceDefinition),
	}
}

// Add inserts or replaces def in the index.
func (idx *Index) Add(def services.ServiceDefinition) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.services[def.ServiceName] = def
	idx.vectors[def.ServiceName] = termFrequencies(def.Document())
}

// Delete removes a service from the index. Removing an absent service is
// not an error.
func (idx *Index) Delete(serviceName string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.services, serviceName)
	delete(idx.vectors, serviceName)
}

// Retrieve returns the topK ServiceDefinitions most similar to query, in
// descending similarity order. scores is built by ranging idx.vectors, a
// map, so ties break in map-iteration order rather than any stable
// insertion order; SliceStable only guarantees the sort won't reorder
// already-equal elements further.
func (idx *Index) Retrieve(query string, topK int) []services.ServiceDefinition {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryVec := termFrequencies(query)

	type scored struct {
		name  string
		score float64
	}
	scores := make([]scored, 0, len(idx.vectors))
	for name, vec := range idx.vectors {
		scores = append(scores, scored{name: name, score: cosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if topK > 0 && topK < len(scores) {
		scores = scores[:topK]
	}
	out := make([]services.ServiceDefinition, 0, len(scores))
	for _, s := range scores {
		out = append(out, idx.services[s.name])
	}
	return out
}

// Len returns the number of services currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.services)
}

func termFrequencies(text string) map[string]float64 {
	freqs := make(map[string]float64)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok == "" {
			continue
		}
		freqs[tok]++
	}
	return freqs
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, va := range a {
		normA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
