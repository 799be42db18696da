package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"fineas-core/internal/domain/entity"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	dimension      int
	timeout        time.Duration
}

func NewQdrantStore(client *qdrant.Client, collectionName string, dimension int, timeout time.Duration) *QdrantStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QdrantStore{
		client:         client,
		collectionName: collectionName,
		dimension:      dimension,
		timeout:        timeout,
	}
}

func (s *QdrantStore) InitCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		st, ok := status.FromError(err)
		if ok && st.Code() == codes.NotFound {
			err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: s.collectionName,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(s.dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				return fmt.Errorf("failed to create collection: %w", err)
			}
		} else {
			return err
		}
	}

	// Payload indexes for supersession deletes and the date filter.
	indexes := map[string]qdrant.FieldType{
		"source_key":    qdrant.FieldType_FieldTypeKeyword,
		"info_category": qdrant.FieldType_FieldTypeKeyword,
		"batch_id":      qdrant.FieldType_FieldTypeKeyword,
		"ingested_date": qdrant.FieldType_FieldTypeInteger,
		"ingested_at":   qdrant.FieldType_FieldTypeInteger,
	}
	for field, fieldType := range indexes {
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collectionName,
			FieldName:      field,
			FieldType:      fieldType.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			// Log but don't fail if index already exists
			log.Printf("[QDRANT] Warning: Could not create %s index (might already exist): %v", field, err)
		}
	}
	return nil
}

// Upsert writes all chunks in one request; Qdrant applies the batch as a
// unit, so a document is never half-indexed.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []entity.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s: %w: got %d, want %d", c.ID, entity.ErrDimensionMismatch, len(c.Embedding), s.dimension)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"source_key":    c.SourceKey,
				"info_category": c.InfoCategory,
				"text":          c.Text,
				"source_text":   c.SourceText,
				"batch_id":      c.BatchID,
				"ingested_date": entity.DateKey(c.IngestedDate),
				"ingested_at":   c.IngestedAt,
			}),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return entity.NewUpstreamError("qdrant", 0, err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, dates *entity.DateRange) ([]entity.ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}

	var filter *qdrant.Filter
	if dates != nil {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "ingested_date",
					Range: &qdrant.Range{
						Gte: qdrant.PtrOf(float64(entity.DateKey(dates.From))),
						Lte: qdrant.PtrOf(float64(entity.DateKey(dates.To))),
					},
				},
			},
		}}}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Over-fetch so equal scores straddling the cut are ordered by us.
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(topK * 2)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, entity.NewUpstreamError("qdrant", 0, err)
	}

	hits := make([]entity.ScoredChunk, 0, len(res))
	for _, hit := range res {
		payload := hit.Payload
		hits = append(hits, entity.ScoredChunk{
			Score: hit.Score,
			Chunk: entity.DocumentChunk{
				ID:           hit.Id.GetUuid(),
				SourceKey:    payload["source_key"].GetStringValue(),
				InfoCategory: payload["info_category"].GetStringValue(),
				Text:         payload["text"].GetStringValue(),
				SourceText:   payload["source_text"].GetStringValue(),
				BatchID:      payload["batch_id"].GetStringValue(),
				IngestedDate: entity.ParseDateKey(payload["ingested_date"].GetIntegerValue()),
				IngestedAt:   payload["ingested_at"].GetIntegerValue(),
			},
		})
	}
	sortScored(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *QdrantStore) DeleteSuperseded(ctx context.Context, sourceKey, category, batchID string, before int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("source_key", sourceKey),
						qdrant.NewMatch("info_category", category),
						qdrant.NewRange("ingested_at", &qdrant.Range{Lt: qdrant.PtrOf(float64(before))}),
					},
					MustNot: []*qdrant.Condition{
						qdrant.NewMatch("batch_id", batchID),
					},
				},
			},
		},
	})
	if err != nil {
		return entity.NewUpstreamError("qdrant", 0, err)
	}
	return nil
}
