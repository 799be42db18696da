package client

import (
	"context"
	"errors"

	"fineas-core/internal/domain/entity"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
	system string
}

// NewOpenAIClientWithConfig allows pointing at a compatible endpoint.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model, system string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		system: system,
	}
}

func (o *OpenAIClient) Generate(ctx context.Context, prompt string) (*entity.AIResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if o.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	rsp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return nil, openAIError("openai", err)
	}
	if len(rsp.Choices) == 0 || len(rsp.Choices[0].Message.Content) == 0 {
		return nil, openAIError("openai", errors.New("no response from OpenAI"))
	}

	return &entity.AIResponse{
		Content:    rsp.Choices[0].Message.Content,
		Model:      rsp.Model,
		TokenCount: rsp.Usage.TotalTokens,
	}, nil
}

type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedderWithConfig(cfg openai.ClientConfig, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (e *OpenAIEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, openAIError("openai-embed", err)
	}
	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, openAIError("openai-embed", errors.New("no response from OpenAI"))
	}
	return rsp.Data[0].Embedding, nil
}
