package client

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SearchAnnotator fetches web search context for a query from the search
// service. The result is pasted into the prompt as-is.
type SearchAnnotator struct {
	client   *http.Client
	url      string
	passHash string
}

func NewSearchAnnotator(baseURL, passHash string, timeout time.Duration) *SearchAnnotator {
	return &SearchAnnotator{
		client:   &http.Client{Timeout: timeout},
		url:      strings.TrimRight(baseURL, "/") + "/search",
		passHash: passHash,
	}
}

func (s *SearchAnnotator) Annotate(ctx context.Context, query string) (string, error) {
	body, err := postJSON(ctx, s.client, s.url, s.passHash, struct {
		Query string `json:"query"`
	}{Query: query}, "search")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
