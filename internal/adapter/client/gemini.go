package client

import (
	"context"
	"errors"

	"fineas-core/internal/domain/entity"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client *genai.Client
	model  string
	system string
}

// NewGenaiClient picks the backend from what is configured: an API key
// selects the Gemini API, otherwise Vertex AI with project and location.
func NewGenaiClient(ctx context.Context, apiKey, projectID, location string) (*genai.Client, error) {
	if apiKey != "" {
		return genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
}

func NewGeminiClientFromClient(c *genai.Client, model, system string) *GeminiClient {
	return &GeminiClient{
		client: c,
		model:  model,
		system: system,
	}
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (*entity.AIResponse, error) {
	var cfg *genai.GenerateContentConfig
	if g.system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, geminiError("gemini", err)
	}

	text := result.Text()
	if text == "" {
		return nil, geminiError("gemini", errors.New("empty response"))
	}

	resp := &entity.AIResponse{
		Content: text,
		Model:   g.model,
	}
	if result.UsageMetadata != nil {
		resp.TokenCount = int(result.UsageMetadata.TotalTokenCount)
	}
	return resp, nil
}
