package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fineas-core/internal/adapter/store"
	"fineas-core/internal/chunker"
	"fineas-core/internal/domain/entity"
	"fineas-core/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDim  = 32
	passHash = "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b" // sha256("secret")
)

// letterEmbedder counts letters, which is enough for a lone document to be
// retrieved.
type letterEmbedder struct{}

func (letterEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, testDim)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[int(r-'a')%testDim]++
		}
	}
	return vec, nil
}

type echoGenerator struct {
	calls atomic.Int32
}

func (g *echoGenerator) Generate(_ context.Context, prompt string) (*entity.AIResponse, error) {
	g.calls.Add(1)
	return &entity.AIResponse{Content: prompt}, nil
}

type acceptAll struct{}

func (acceptAll) VerifyEvent(payload []byte, sig string) (*entity.BillingEvent, error) {
	if sig != "ok" {
		return nil, entity.ErrSignatureInvalid
	}
	var body struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, entity.ErrMalformedPayload
	}
	return &entity.BillingEvent{ID: "evt_1", Type: entity.SubscriptionCompleted, UserKey: body.User, CustomerRef: "cus_1"}, nil
}

type fixedQuote string

func (q fixedQuote) FetchQuote(context.Context, string) (string, error) { return string(q), nil }

type testServer struct {
	app      *fiber.App
	accounts *store.MemoryStore
	gen      *echoGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	accounts := store.NewMemoryStore()
	index := store.NewMemoryIndex(testDim)
	gen := &echoGenerator{}
	ledger := usecase.NewCreditLedger(accounts, usecase.Allotments{Default: 2, Member: 1000000, Canceled: 3})
	assembler := usecase.NewContextAssembler(letterEmbedder{}, index, "You are Fineas.", 7, 16000,
		usecase.WithClock(func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }))

	ingestor := usecase.NewIngestor(chunker.New(), letterEmbedder{}, index, testDim, 2)
	aggregator := usecase.NewAggregator([]usecase.QuoteSection{{
		Category: entity.CategoryCompanyDesc,
		Source:   fixedQuote("Globex builds reactors."),
		Template: "Describe:\n",
	}}, gen, ingestor, usecase.WithReportStore(accounts))

	app := fiber.New()
	SetupRouter(app, Handlers{
		Prompt:  NewPromptHandler(usecase.NewOrchestrator(ledger, assembler, gen)),
		Ingest:  NewIngestHandler(ingestor),
		Account: NewAccountHandler(ledger, usecase.NewAccountService(ledger, accounts, accounts, nil)),
		Billing: NewBillingHandler(usecase.NewBillingConsumer(acceptAll{}, ledger, accounts)),
		Quote:   NewQuoteHandler(aggregator),
	}, RouterConfig{PassHash: passHash, Version: "test", Env: "test"})
	return &testServer{app: app, accounts: accounts, gen: gen}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func ingestRequest(info, auth string) *http.Request {
	form := url.Values{}
	form.Set("info", url.QueryEscape(info))
	form.Set("source_key", "ACME")
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	return req
}

func chatRequest(body, auth string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	return req
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"healthy","version":"test","env":"test"}`, body)
}

func TestIngestThenChat(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, ingestRequest(`{"CompanyDesc": "Acme Corp is a widget maker founded in 1990."}`, passHash))
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, `"status":"ingested"`)

	status, body = s.do(t, chatRequest(`{"prompt": "What does Acme do?"}`, passHash))
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "widget maker")
	assert.Contains(t, body, "PROMPT:\nWhat does Acme do?")
}

func TestChat_QueryParameter(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat?prompt=hello", nil)
	req.Header.Set("Authorization", "Bearer "+passHash)

	status, body := s.do(t, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "PROMPT:\nhello")
}

func TestAuthAndValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"chat without bearer", chatRequest(`{"prompt":"hi"}`, ""), http.StatusUnauthorized},
		{"chat with wrong bearer", chatRequest(`{"prompt":"hi"}`, "nope"), http.StatusUnauthorized},
		{"chat with raw pass key", chatRequest(`{"prompt":"hi"}`, "secret"), http.StatusUnauthorized},
		{"chat without prompt", chatRequest(`{}`, passHash), http.StatusBadRequest},
		{"chat with broken json", chatRequest(`{"prompt":`, passHash), http.StatusBadRequest},
		{"ingest without bearer", ingestRequest(`{"a":"b"}`, ""), http.StatusUnauthorized},
		{"ingest with empty object", ingestRequest(`{}`, passHash), http.StatusBadRequest},
		{"ingest with non-object", ingestRequest(`["a"]`, passHash), http.StatusBadRequest},
		{"enforce without id", jsonRequest(http.MethodPost, "/v1/credits/enforce", `{}`), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := s.do(t, tt.req)
			assert.Equal(t, tt.status, status)
		})
	}
	assert.Zero(t, s.gen.calls.Load())
}

func TestIngest_MissingInfo(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("source_key=ACME"))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	req.Header.Set("Authorization", "Bearer "+passHash)

	status, _ := s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestChat_CreditsExhaustedSkipsGeneration(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.accounts.SetMembership(ctx, "u1", false, 0, "")
	require.NoError(t, err)

	status, body := s.do(t, chatRequest(`{"prompt":"hi","id_hash":"u1"}`, passHash))
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Contains(t, body, "ran out of credits")
	assert.Zero(t, s.gen.calls.Load())
}

func TestChat_MeteredResponseHeaders(t *testing.T) {
	s := newTestServer(t)
	_, err := s.accounts.SetMembership(context.Background(), "u1", false, 5, "")
	require.NoError(t, err)

	resp, err := s.app.Test(chatRequest(`{"prompt":"hi","id_hash":"u1"}`, passHash), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4", resp.Header.Get("X-Fineas-Credits-Remaining"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

func TestEnforceEndpoint(t *testing.T) {
	s := newTestServer(t)
	enforce := func() (int, string) {
		return s.do(t, jsonRequest(http.MethodPost, "/v1/credits/enforce", `{"id_hash":"u9"}`))
	}

	// Default allotment is 2: the first call creates, the next two spend.
	for _, want := range []int{2, 1, 0} {
		status, body := enforce()
		require.Equal(t, http.StatusOK, status)
		var acc entity.Account
		require.NoError(t, json.Unmarshal([]byte(body), &acc))
		assert.Equal(t, want, acc.Credits)
	}
	status, body := enforce()
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Contains(t, body, `"credits":0`)
}

func TestBillingWebhook(t *testing.T) {
	s := newTestServer(t)
	webhook := func(body, sig string) (int, string) {
		req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader(body))
		req.Header.Set("Stripe-Signature", sig)
		return s.do(t, req)
	}

	status, _ := webhook(`{"user":"u1"}`, "forged")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = webhook(`not json`, "ok")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := webhook(`{"user":"u1"}`, "ok")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"success":true`)

	status, body = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/users/u1", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"ismember":true`)
	assert.Contains(t, body, `"credits":1000000`)
}

func TestCheckoutWithoutBillingProvider(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, jsonRequest(http.MethodPost, "/v1/users/checkout", `{"id_hash":"u1"}`))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, body, "stripe")
}

func TestConversationRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, jsonRequest(http.MethodPost, "/v1/conversations",
		`{"id_hash":"u1","name":"q1 notes","turns":[{"role":"user","text":"hi"}]}`))
	require.Equal(t, http.StatusOK, status, body)
	assert.JSONEq(t, `{"conversations":["q1 notes"]}`, body)

	status, body = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/conversations/u1/q1%20notes", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"text":"hi"`)

	status, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/conversations/u1/missing", nil))
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, httptest.NewRequest(http.MethodDelete, "/v1/conversations/u1/q1%20notes", nil))
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"conversations":[]}`, body)
}

func TestQuoteRoutes(t *testing.T) {
	s := newTestServer(t)
	quote := func(target, auth string) (int, string) {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		return s.do(t, req)
	}

	status, _ := quote("/v1/quote?ticker=GLBX", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = quote("/v1/quote", passHash)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = quote("/v1/quote?ticker=GLBX&index=perhaps", passHash)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/quote/GLBX", nil))
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{}`, body)

	status, body = quote("/v1/quote?ticker=GLBX", passHash)
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "Globex builds reactors.")
	assert.Contains(t, body, `"saved":true`)

	status, body = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/quote/GLBX", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"CompanyDesc":"Describe:\nFor ASSET_NAME: GLBX\nGlobex builds reactors."`)

	// The indexed summary is now retrievable by chat.
	status, body = s.do(t, chatRequest(`{"prompt": "What does Globex build?"}`, passHash))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Globex builds reactors.")
}

func TestQuote_BodyFlagsOverrideDefaults(t *testing.T) {
	s := newTestServer(t)
	req := jsonRequest(http.MethodPost, "/v1/quote", `{"ticker":"GLBX","index":false,"save":false}`)
	req.Header.Set("Authorization", "Bearer "+passHash)

	status, body := s.do(t, req)
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, `"saved":false`)
	assert.NotContains(t, body, `"indexed"`)

	status, body = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/quote/GLBX", nil))
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{}`, body)
}

func TestBearerAuth_EmptyHashLocksRoutes(t *testing.T) {
	app := fiber.New()
	app.Get("/x", bearerAuth(""), func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
