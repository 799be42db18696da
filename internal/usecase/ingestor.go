package usecase

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"fineas-core/internal/chunker"
	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// IngestReport summarises one ingestion request.
type IngestReport struct {
	SourceKey  string         `json:"source_key"`
	Chunks     map[string]int `json:"chunks"`
	IngestedAt time.Time      `json:"ingested_at"`
}

// Ingestor turns raw text into embedded chunks and writes them to the index.
type Ingestor struct {
	splitter    *chunker.Splitter
	embedder    repository.Embedder
	index       repository.VectorIndex
	dimension   int
	concurrency int
	now         func() time.Time
	lastStamp   atomic.Int64
}

func NewIngestor(splitter *chunker.Splitter, embedder repository.Embedder, index repository.VectorIndex, dimension, concurrency int) *Ingestor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Ingestor{
		splitter:    splitter,
		embedder:    embedder,
		index:       index,
		dimension:   dimension,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// stamp returns a strictly increasing unix-nano time, so two ingestions in
// this process never share an IngestedAt.
func (in *Ingestor) stamp() int64 {
	for {
		last := in.lastStamp.Load()
		next := in.now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if in.lastStamp.CompareAndSwap(last, next) {
			return next
		}
	}
}

// ChunkAndEmbed splits text and embeds every piece. Any embedding failure
// fails the whole call and no chunks are returned.
func (in *Ingestor) ChunkAndEmbed(ctx context.Context, sourceKey, fieldName, text string, asOf time.Time) ([]entity.DocumentChunk, error) {
	return in.chunkAndEmbed(ctx, sourceKey, fieldName, text, asOf, in.stamp())
}

func (in *Ingestor) chunkAndEmbed(ctx context.Context, sourceKey, fieldName, text string, asOf time.Time, ingestedAt int64) ([]entity.DocumentChunk, error) {
	pieces := in.splitter.Split(text)
	if len(pieces) == 0 {
		return nil, nil
	}

	batchID := uuid.NewString()
	chunks := make([]entity.DocumentChunk, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for i, piece := range pieces {
		g.Go(func() error {
			vec, err := in.embedder.CreateEmbedding(gctx, piece)
			if err != nil {
				return fmt.Errorf("embed chunk %d of %s/%s: %w", i, sourceKey, fieldName, err)
			}
			if len(vec) != in.dimension {
				return fmt.Errorf("embed chunk %d of %s/%s: %w: got %d, want %d",
					i, sourceKey, fieldName, entity.ErrDimensionMismatch, len(vec), in.dimension)
			}
			chunks[i] = entity.DocumentChunk{
				ID:           uuid.NewString(),
				SourceKey:    sourceKey,
				InfoCategory: fieldName,
				Text:         piece,
				SourceText:   text,
				Embedding:    vec,
				IngestedDate: asOf,
				BatchID:      batchID,
				IngestedAt:   ingestedAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// Ingest indexes each category of fields under sourceKey. Every category is
// embedded before anything is written, and all of them go out in one
// upsert. Only then are older chunks of the same categories removed; a
// concurrent ingestion stamped later is never deleted by this one.
func (in *Ingestor) Ingest(ctx context.Context, sourceKey string, fields map[string]string, asOf time.Time) (*IngestReport, error) {
	sourceKey = strings.TrimSpace(sourceKey)
	if sourceKey == "" {
		return nil, fmt.Errorf("%w: missing source key", entity.ErrInvalidRequest)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no categories to ingest", entity.ErrInvalidRequest)
	}

	categories := make([]string, 0, len(fields))
	for name := range fields {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	stamp := in.stamp()
	report := &IngestReport{SourceKey: sourceKey, Chunks: make(map[string]int, len(fields)), IngestedAt: time.Unix(0, stamp).UTC()}
	batches := make(map[string]string, len(categories))
	var all []entity.DocumentChunk
	for _, category := range categories {
		chunks, err := in.chunkAndEmbed(ctx, sourceKey, category, fields[category], asOf, stamp)
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			log.Printf("[INGEST] %s/%s is empty, skipping", sourceKey, category)
			continue
		}
		batches[category] = chunks[0].BatchID
		report.Chunks[category] = len(chunks)
		all = append(all, chunks...)
	}
	if len(all) == 0 {
		return report, nil
	}

	if err := in.index.Upsert(ctx, all); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", sourceKey, err)
	}
	for _, category := range categories {
		batchID, ok := batches[category]
		if !ok {
			continue
		}
		if err := in.index.DeleteSuperseded(ctx, sourceKey, category, batchID, stamp); err != nil {
			// The new batch is live; stale chunks are cleaned up by the next ingestion.
			log.Printf("[INGEST] Could not remove superseded chunks of %s/%s: %v", sourceKey, category, err)
		}
		log.Printf("[INGEST] Indexed %d chunk(s) for %s/%s", report.Chunks[category], sourceKey, category)
	}
	return report, nil
}
