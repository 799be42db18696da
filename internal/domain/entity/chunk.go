package entity

import (
	"strconv"
	"time"
)

// DocumentChunk is a bounded passage of ingested text with its embedding.
// Chunks are immutable; re-ingesting a source supersedes them.
type DocumentChunk struct {
	ID           string    `json:"id"`
	SourceKey    string    `json:"source_key"`
	InfoCategory string    `json:"info_category"`
	Text         string    `json:"text"`
	SourceText   string    `json:"source_text"`
	Embedding    []float32 `json:"-"`
	IngestedDate time.Time `json:"ingested_date"`
	BatchID      string    `json:"batch_id"`
	// IngestedAt orders chunks with equal relevance, most recent first.
	IngestedAt int64 `json:"ingested_at"`
}

type ScoredChunk struct {
	Chunk DocumentChunk
	Score float32
}

// DateRange bounds a retrieval by ingestion date, both ends inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

// DateKey renders a date as the YYYYMMDD integer stored with each chunk.
func DateKey(t time.Time) int64 {
	n, _ := strconv.ParseInt(t.Format("20060102"), 10, 64)
	return n
}

// ParseDateKey is the inverse of DateKey.
func ParseDateKey(n int64) time.Time {
	t, err := time.Parse("20060102", strconv.FormatInt(n, 10))
	if err != nil {
		return time.Time{}
	}
	return t
}
