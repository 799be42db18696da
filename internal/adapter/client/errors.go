package client

import (
	"errors"

	"fineas-core/internal/domain/entity"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Each SDK reports HTTP failures with its own error type. These helpers lift
// the status code into entity.UpstreamError so retry policy stays SDK-agnostic.

func geminiError(service string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return entity.NewUpstreamError(service, apiErr.Code, err)
	}
	return entity.NewUpstreamError(service, 0, err)
}

func openAIError(service string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return entity.NewUpstreamError(service, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return entity.NewUpstreamError(service, reqErr.HTTPStatusCode, err)
	}
	return entity.NewUpstreamError(service, 0, err)
}

func anthropicError(service string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return entity.NewUpstreamError(service, apiErr.StatusCode, err)
	}
	return entity.NewUpstreamError(service, 0, err)
}
