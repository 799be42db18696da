package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fineas-core/internal/domain/entity"
)

// QuoteService reads one kind of market data (price history, financials,
// news, description or technical indicators) from its market data service.
// The body is passed to the model verbatim.
type QuoteService struct {
	client   *http.Client
	url      string
	kind     string
	passHash string
}

// NewQuoteService targets <baseURL>/<kind>, e.g. http://stk:8081/stk.
func NewQuoteService(baseURL, kind, passHash string, timeout time.Duration) *QuoteService {
	return &QuoteService{
		client:   &http.Client{Timeout: timeout},
		url:      strings.TrimRight(baseURL, "/") + "/" + kind,
		kind:     kind,
		passHash: passHash,
	}
}

func (q *QuoteService) FetchQuote(ctx context.Context, ticker string) (string, error) {
	service := "quote-" + q.kind
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url+"?ticker="+url.QueryEscape(ticker), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.passHash)

	resp, err := q.client.Do(req)
	if err != nil {
		return "", entity.NewUpstreamError(service, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", entity.NewUpstreamError(service, 0, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", entity.NewUpstreamError(service, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	return strings.TrimSpace(string(body)), nil
}
