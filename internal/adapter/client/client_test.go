package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fineas-core/internal/domain/entity"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestLLMService_NormalizesResponseShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantText  string
		wantModel string
	}{
		{
			name:      "content blocks",
			body:      `{"model":"claude","content":[{"type":"text","text":"Hello "},{"type":"tool_use"},{"type":"text","text":"world"}]}`,
			wantText:  "Hello world",
			wantModel: "claude",
		},
		{
			name:      "chat choices",
			body:      `{"model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"Bullish."}}]}`,
			wantText:  "Bullish.",
			wantModel: "gpt-4o",
		},
		{
			name:     "top-level text",
			body:     `{"text":"Neutral outlook"}`,
			wantText: "Neutral outlook",
		},
		{
			name:     "content string",
			body:     `{"content":"Bearish"}`,
			wantText: "Bearish",
		},
		{
			name:     "plain text",
			body:     "just text\n",
			wantText: "just text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/llm", r.URL.Path)
				assert.Equal(t, "Bearer hash", r.Header.Get("Authorization"))
				var p promptPayload
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
				assert.Equal(t, "question", p.Prompt)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			svc := NewLLMService(srv.URL+"/", "hash", time.Second)
			resp, err := svc.Generate(context.Background(), "question")
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Content)
			assert.Equal(t, tt.wantModel, resp.Model)
		})
	}
}

func TestLLMService_StatusBecomesUpstreamError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		auth      bool
	}{
		{http.StatusInternalServerError, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadRequest, false, false},
		{http.StatusUnauthorized, false, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewLLMService(srv.URL, "hash", time.Second).Generate(context.Background(), "q")
			var ue *entity.UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.retryable, ue.Retryable())
			assert.Equal(t, tt.auth, errors.Is(err, entity.ErrUpstreamAuth))
		})
	}
}

func TestLLMService_EmptyBodyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewLLMService(srv.URL, "hash", time.Second).Generate(context.Background(), "q")
	assert.ErrorIs(t, err, entity.ErrUpstream)
}

func TestSearchAnnotator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		var body struct {
			Query string `json:"query"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		io.WriteString(w, "  [Acme]https://acme.example "+body.Query+"\n")
	}))
	defer srv.Close()

	got, err := NewSearchAnnotator(srv.URL, "hash", time.Second).Annotate(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "[Acme]https://acme.example acme", got)
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		from    string
		to      string
		wantErr bool
	}{
		{name: "ordered", in: "2024-01-01,2024-03-31", from: "2024-01-01", to: "2024-03-31"},
		{name: "reversed", in: "2024-03-31,2024-01-01", from: "2024-01-01", to: "2024-03-31"},
		{name: "surrounding text", in: "Dates: 2023-05-01, 2023-05-02.", from: "2023-05-01", to: "2023-05-02"},
		{name: "one date", in: "2024-01-01", wantErr: true},
		{name: "invalid month", in: "2024-13-01,2024-01-01", wantErr: true},
		{name: "prose", in: "I cannot tell", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateRange(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.from, got.From.Format(time.DateOnly))
			assert.Equal(t, tt.to, got.To.Format(time.DateOnly))
		})
	}
}

type stubProvider struct {
	reply  string
	prompt string
}

func (s *stubProvider) Generate(_ context.Context, prompt string) (*entity.AIResponse, error) {
	s.prompt = prompt
	return &entity.AIResponse{Content: s.reply}, nil
}

func TestDateExtractor(t *testing.T) {
	p := &stubProvider{reply: "2024-02-01,2024-02-29"}
	got, err := NewDateExtractor(p, "Give two dates.").ExtractDateRange(context.Background(), "How was February?")
	require.NoError(t, err)
	assert.Equal(t, "Give two dates.\nPrompt: How was February?", p.prompt)
	assert.Equal(t, int64(20240201), entity.DateKey(got.From))
	assert.Equal(t, int64(20240229), entity.DateKey(got.To))
}

func TestSDKErrorMapping(t *testing.T) {
	err := geminiError("gemini", genai.APIError{Code: 503, Message: "unavailable"})
	var ue *entity.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 503, ue.StatusCode)
	assert.True(t, ue.Retryable())

	err = openAIError("openai", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"})
	assert.ErrorIs(t, err, entity.ErrUpstreamAuth)

	err = openAIError("openai", &openai.RequestError{HTTPStatusCode: 404, Err: errors.New("not found")})
	require.ErrorAs(t, err, &ue)
	assert.False(t, ue.Retryable())

	err = anthropicError("anthropic", errors.New("connection reset"))
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 0, ue.StatusCode)
	assert.True(t, ue.Retryable())
}
