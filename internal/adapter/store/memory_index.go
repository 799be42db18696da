package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"fineas-core/internal/domain/entity"
)

// MemoryIndex is a brute-force cosine index held in process memory. It
// backs tests and single-node development setups.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]entity.DocumentChunk
}

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		entries:   make(map[string]entity.DocumentChunk),
	}
}

func (m *MemoryIndex) Upsert(_ context.Context, chunks []entity.DocumentChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != m.dimension {
			return fmt.Errorf("chunk %s: %w: got %d, want %d", c.ID, entity.ErrDimensionMismatch, len(c.Embedding), m.dimension)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.entries[c.ID] = c
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int, dates *entity.DateRange) ([]entity.ScoredChunk, error) {
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("query: %w: got %d, want %d", entity.ErrDimensionMismatch, len(vector), m.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	hits := make([]entity.ScoredChunk, 0, len(m.entries))
	for _, c := range m.entries {
		if !inRange(c, dates) {
			continue
		}
		hits = append(hits, entity.ScoredChunk{Chunk: c, Score: cosine(vector, c.Embedding)})
	}
	m.mu.RUnlock()

	sortScored(hits)
	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK], nil
}

func (m *MemoryIndex) DeleteSuperseded(_ context.Context, sourceKey, category, batchID string, before int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.entries {
		if c.SourceKey == sourceKey && c.InfoCategory == category && c.BatchID != batchID && c.IngestedAt < before {
			delete(m.entries, id)
		}
	}
	return nil
}

// Len reports the number of stored chunks.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func inRange(c entity.DocumentChunk, dates *entity.DateRange) bool {
	if dates == nil {
		return true
	}
	key := entity.DateKey(c.IngestedDate)
	return key >= entity.DateKey(dates.From) && key <= entity.DateKey(dates.To)
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// sortScored applies the index ordering to results from a backend whose
// own tie order is unspecified.
func sortScored(hits []entity.ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.IngestedAt != b.Chunk.IngestedAt {
			return a.Chunk.IngestedAt > b.Chunk.IngestedAt
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}
