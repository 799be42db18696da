package client

import (
	"context"
	"errors"
	"strings"

	"fineas-core/internal/domain/entity"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type AnthropicClient struct {
	client anthropic.Client
	model  string
	system string
}

// NewAnthropicClient disables the SDK's own retries; ResilientProvider owns
// the retry policy.
func NewAnthropicClient(apiKey, model, system string, opts ...option.RequestOption) *AnthropicClient {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
		system: system,
	}
}

func (a *AnthropicClient) Generate(ctx context.Context, prompt string) (*entity.AIResponse, error) {
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.system != "" {
		req.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	rsp, err := a.client.Messages.New(ctx, req)
	if err != nil {
		return nil, anthropicError("anthropic", err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return nil, anthropicError("anthropic", errors.New("no response from Anthropic"))
	}

	return &entity.AIResponse{
		Content:    b.String(),
		Model:      string(rsp.Model),
		TokenCount: int(rsp.Usage.InputTokens + rsp.Usage.OutputTokens),
	}, nil
}
