package store

import (
	"context"
	"testing"
	"time"

	"fineas-core/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkAt(id, source, batch string, vec []float32, day time.Time) entity.DocumentChunk {
	return entity.DocumentChunk{
		ID:           id,
		SourceKey:    source,
		InfoCategory: "news",
		Text:         "text " + id,
		Embedding:    vec,
		IngestedDate: day,
		BatchID:      batch,
		IngestedAt:   day.UnixNano(),
	}
}

func TestMemoryIndex_QueryOrdersByScore(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{
		chunkAt("far", "s", "b1", []float32{0, 1}, day),
		chunkAt("near", "s", "b1", []float32{1, 0}, day),
		chunkAt("mid", "s", "b1", []float32{1, 1}, day),
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].Chunk.ID)
	assert.Equal(t, "mid", hits[1].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestMemoryIndex_TiesPreferLatestIngestion(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{chunkAt("a-new", "s2", "b2", []float32{2, 0}, day.Add(time.Second))}))
	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{chunkAt("z-old", "s1", "b1", []float32{1, 0}, day)}))

	for i := 0; i < 5; i++ {
		hits, err := idx.Query(ctx, []float32{1, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "a-new", hits[0].Chunk.ID)
	}
}

func TestMemoryIndex_TiesWithinBatchOrderByID(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{
		chunkAt("c", "s", "b1", []float32{1, 0}, day),
		chunkAt("a", "s", "b1", []float32{1, 0}, day),
		chunkAt("b", "s", "b1", []float32{1, 0}, day),
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	got := []string{}
	for _, h := range hits {
		got = append(got, h.Chunk.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemoryIndex_DateFilterIsInclusive(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{
		chunkAt("jan", "s", "b", []float32{1, 0}, jan),
		chunkAt("feb", "s", "b", []float32{1, 0}, feb),
		chunkAt("mar", "s", "b", []float32{1, 0}, mar),
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 10, &entity.DateRange{From: feb, To: mar})
	require.NoError(t, err)
	ids := []string{}
	for _, h := range hits {
		ids = append(ids, h.Chunk.ID)
	}
	assert.ElementsMatch(t, []string{"feb", "mar"}, ids)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()

	err := idx.Upsert(ctx, []entity.DocumentChunk{
		chunkAt("ok", "s", "b", []float32{1, 0, 0}, time.Now()),
		chunkAt("bad", "s", "b", []float32{1, 0}, time.Now()),
	})
	assert.ErrorIs(t, err, entity.ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Len(), "a rejected batch must not be partially stored")

	_, err = idx.Query(ctx, []float32{1}, 3, nil)
	assert.ErrorIs(t, err, entity.ErrDimensionMismatch)
}

func TestMemoryIndex_DeleteSuperseded(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	day := time.Now()

	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{
		chunkAt("a1", "report", "old", []float32{1, 0}, day),
		chunkAt("a2", "report", "old", []float32{1, 0}, day),
		chunkAt("b1", "other", "old", []float32{1, 0}, day),
	}))
	later := day.Add(time.Second)
	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{
		chunkAt("a3", "report", "new", []float32{1, 0}, later),
	}))
	require.NoError(t, idx.DeleteSuperseded(ctx, "report", "news", "new", later.UnixNano()))

	hits, err := idx.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	ids := []string{}
	for _, h := range hits {
		ids = append(ids, h.Chunk.ID)
	}
	assert.ElementsMatch(t, []string{"a3", "b1"}, ids)
}

func TestMemoryIndex_DeleteSupersededKeepsNewerBatch(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	later := day.Add(time.Second)

	require.NoError(t, idx.Upsert(ctx, []entity.DocumentChunk{
		chunkAt("first", "report", "b1", []float32{1, 0}, day),
		chunkAt("second", "report", "b2", []float32{1, 0}, later),
	}))

	// The older batch finishing last must not wipe the newer one.
	require.NoError(t, idx.DeleteSuperseded(ctx, "report", "news", "b1", day.UnixNano()))
	assert.Equal(t, 2, idx.Len())

	require.NoError(t, idx.DeleteSuperseded(ctx, "report", "news", "b2", later.UnixNano()))
	hits, err := idx.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second", hits[0].Chunk.ID)
}

func TestSortScored(t *testing.T) {
	hits := []entity.ScoredChunk{
		{Score: 0.5, Chunk: entity.DocumentChunk{ID: "b", IngestedAt: 1}},
		{Score: 0.9, Chunk: entity.DocumentChunk{ID: "c", IngestedAt: 1}},
		{Score: 0.5, Chunk: entity.DocumentChunk{ID: "a", IngestedAt: 1}},
		{Score: 0.5, Chunk: entity.DocumentChunk{ID: "z", IngestedAt: 2}},
	}
	sortScored(hits)

	got := []string{}
	for _, h := range hits {
		got = append(got, h.Chunk.ID)
	}
	assert.Equal(t, []string{"c", "z", "a", "b"}, got)
}
