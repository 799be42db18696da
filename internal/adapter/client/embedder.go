package client

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// Embedder turns text into vectors with a Gemini embedding model. Ingestion
// and queries must go through the same instance so both live in one space.
type Embedder struct {
	client *genai.Client
	model  string // e.g., "text-embedding-004"
}

func NewEmbedderFromClient(c *genai.Client, model string) *Embedder {
	return &Embedder{
		client: c,
		model:  model,
	}
}

func (e *Embedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, geminiError("gemini-embed", err)
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, geminiError("gemini-embed", errors.New("empty embedding"))
	}
	return res.Embeddings[0].Values, nil
}
