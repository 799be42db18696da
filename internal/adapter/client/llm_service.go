package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fineas-core/internal/domain/entity"
)

const maxResponseBytes = 4 << 20

// LLMService calls a standalone generation service over HTTP. Depending on
// which model backs it, the service answers with provider-native JSON or
// plain text; Generate normalizes all of them to one string.
type LLMService struct {
	client   *http.Client
	url      string
	passHash string
}

func NewLLMService(baseURL, passHash string, timeout time.Duration) *LLMService {
	return &LLMService{
		client:   &http.Client{Timeout: timeout},
		url:      strings.TrimRight(baseURL, "/") + "/llm",
		passHash: passHash,
	}
}

type promptPayload struct {
	Prompt string `json:"prompt"`
}

func (s *LLMService) Generate(ctx context.Context, prompt string) (*entity.AIResponse, error) {
	body, err := postJSON(ctx, s.client, s.url, s.passHash, promptPayload{Prompt: prompt}, "llm-service")
	if err != nil {
		return nil, err
	}
	text, model := normalizeCompletion(body)
	if text == "" {
		return nil, entity.NewUpstreamError("llm-service", 0, errors.New("empty response"))
	}
	return &entity.AIResponse{Content: text, Model: model}, nil
}

// completion covers the response shapes seen from the service: Anthropic
// content blocks, OpenAI choices, and a flat text or content field.
type completion struct {
	Model   string          `json:"model"`
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func normalizeCompletion(body []byte) (text, model string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return string(trimmed), ""
	}
	var c completion
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return string(trimmed), ""
	}

	if len(c.Content) > 0 {
		var blocks []contentBlock
		if err := json.Unmarshal(c.Content, &blocks); err == nil {
			var b strings.Builder
			for _, block := range blocks {
				if block.Type == "" || block.Type == "text" {
					b.WriteString(block.Text)
				}
			}
			if b.Len() > 0 {
				return b.String(), c.Model
			}
		}
		var s string
		if err := json.Unmarshal(c.Content, &s); err == nil && s != "" {
			return s, c.Model
		}
	}
	for _, choice := range c.Choices {
		if choice.Message.Content != "" {
			return choice.Message.Content, c.Model
		}
		if choice.Text != "" {
			return choice.Text, c.Model
		}
	}
	if c.Text != "" {
		return c.Text, c.Model
	}
	return "", c.Model
}

// postJSON sends payload with the service bearer credential and returns the
// body of a 2xx response. Other statuses become UpstreamError.
func postJSON(ctx context.Context, client *http.Client, url, passHash string, payload any, service string) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+passHash)

	resp, err := client.Do(req)
	if err != nil {
		return nil, entity.NewUpstreamError(service, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, entity.NewUpstreamError(service, 0, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, entity.NewUpstreamError(service, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	return body, nil
}
