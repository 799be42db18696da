package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/usecase"

	"github.com/gofiber/fiber/v2"
)

type PromptHandler struct {
	orchestrator *usecase.Orchestrator
}

func NewPromptHandler(orch *usecase.Orchestrator) *PromptHandler {
	return &PromptHandler{orchestrator: orch}
}

// HandlePrompt accepts {prompt, id_hash} as JSON or as query parameters and
// replies with the generated text.
func (h *PromptHandler) HandlePrompt(c *fiber.Ctx) error {
	var req entity.AIRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	if req.Prompt == "" {
		req.Prompt = c.Query("prompt")
	}
	if req.UserKey == "" {
		req.UserKey = c.Query("id_hash")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing prompt"})
	}
	req.Timestamp = time.Now()

	resp, err := h.orchestrator.Execute(c.UserContext(), req)
	if err != nil {
		return writeError(c, err)
	}

	c.Set("X-Fineas-Passages", strconv.Itoa(resp.Passages))
	if resp.Metered {
		c.Set("X-Fineas-Credits-Remaining", strconv.Itoa(resp.RemainingCredits))
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(resp.Content)
}

type IngestHandler struct {
	ingestor *usecase.Ingestor
}

func NewIngestHandler(in *usecase.Ingestor) *IngestHandler {
	return &IngestHandler{ingestor: in}
}

// HandleIngest reads the form field "info", a URL-escaped JSON object of
// {category: text}, and indexes it under "source_key".
func (h *IngestHandler) HandleIngest(c *fiber.Ctx) error {
	raw := c.FormValue("info")
	if strings.TrimSpace(raw) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing info"})
	}
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		raw = unescaped
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "info must be a JSON object of category to text"})
	}

	asOf := time.Now().UTC()
	if d := c.FormValue("date"); d != "" {
		parsed, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "date must be YYYY-MM-DD"})
		}
		asOf = parsed
	}

	report, err := h.ingestor.Ingest(c.UserContext(), c.FormValue("source_key", "default"), fields, asOf)
	if err != nil {
		if errors.Is(err, entity.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": publicMessage(err)})
		}
		log.Printf("[INGEST] Request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "ingestion failed",
			"details": publicMessage(err),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ingested",
		"report": report,
	})
}

type AccountHandler struct {
	ledger   *usecase.CreditLedger
	accounts *usecase.AccountService
}

func NewAccountHandler(ledger *usecase.CreditLedger, accounts *usecase.AccountService) *AccountHandler {
	return &AccountHandler{ledger: ledger, accounts: accounts}
}

type userKeyRequest struct {
	UserKey string `json:"id_hash"`
}

func (h *AccountHandler) HandleEnforce(c *fiber.Ctx) error {
	var req userKeyRequest
	if err := c.BodyParser(&req); err != nil || req.UserKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing id_hash"})
	}
	res, err := h.ledger.Enforce(c.UserContext(), req.UserKey)
	if err != nil {
		return writeError(c, err)
	}
	if !res.Allowed() {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error": entity.ErrCreditsExhausted.Error(),
			"user":  res.Account,
		})
	}
	return c.Status(fiber.StatusOK).JSON(res.Account)
}

func (h *AccountHandler) HandleUserInfo(c *fiber.Ctx) error {
	acc, err := h.accounts.UserInfo(c.UserContext(), param(c, "id_hash"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(acc)
}

func (h *AccountHandler) HandleCheckout(c *fiber.Ctx) error {
	var req userKeyRequest
	if err := c.BodyParser(&req); err != nil || req.UserKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing id_hash"})
	}
	session, err := h.accounts.Checkout(c.UserContext(), req.UserKey)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(session)
}

func (h *AccountHandler) HandleCancel(c *fiber.Ctx) error {
	var req struct {
		CustomerRef string `json:"billing_customer_ref"`
	}
	if err := c.BodyParser(&req); err != nil || req.CustomerRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing billing_customer_ref"})
	}
	acc, err := h.accounts.Cancel(c.UserContext(), req.CustomerRef)
	if errors.Is(err, entity.ErrAccountNotFound) {
		return c.JSON(fiber.Map{"warning": "subscriptions canceled but no user matches billing_customer_ref"})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"user": acc})
}

func (h *AccountHandler) HandleSaveConversation(c *fiber.Ctx) error {
	var conv entity.Conversation
	if err := c.BodyParser(&conv); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	names, err := h.accounts.SaveConversation(c.UserContext(), conv)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": names})
}

func (h *AccountHandler) HandleListConversations(c *fiber.Ctx) error {
	names, err := h.accounts.ListConversations(c.UserContext(), param(c, "id_hash"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": names})
}

func (h *AccountHandler) HandleLoadConversation(c *fiber.Ctx) error {
	conv, err := h.accounts.LoadConversation(c.UserContext(), param(c, "id_hash"), param(c, "name"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(conv)
}

func (h *AccountHandler) HandleDeleteConversation(c *fiber.Ctx) error {
	names, err := h.accounts.DeleteConversation(c.UserContext(), param(c, "id_hash"), param(c, "name"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": names})
}

type BillingHandler struct {
	consumer *usecase.BillingConsumer
}

func NewBillingHandler(consumer *usecase.BillingConsumer) *BillingHandler {
	return &BillingHandler{consumer: consumer}
}

// HandleWebhook must see the body exactly as sent; the signature covers
// the raw bytes.
func (h *BillingHandler) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	event, err := h.consumer.Apply(c.UserContext(), payload, c.Get("Stripe-Signature"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "event": event.ID})
}

type QuoteHandler struct {
	aggregator *usecase.Aggregator
}

func NewQuoteHandler(agg *usecase.Aggregator) *QuoteHandler {
	return &QuoteHandler{aggregator: agg}
}

type quoteRequest struct {
	Ticker string `json:"ticker"`
	Index  *bool  `json:"index"`
	Save   *bool  `json:"save"`
}

// HandleQuote builds the market report for a ticker. Both indexing and
// saving default to on; either can be turned off in the body or query.
func (h *QuoteHandler) HandleQuote(c *fiber.Ctx) error {
	var req quoteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	if req.Ticker == "" {
		req.Ticker = c.Query("ticker")
	}
	if strings.TrimSpace(req.Ticker) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing ticker"})
	}
	opts := usecase.AggregateOptions{Index: true, Save: true}
	for _, flag := range []struct {
		body *bool
		key  string
		dst  *bool
	}{
		{req.Index, "index", &opts.Index},
		{req.Save, "save", &opts.Save},
	} {
		switch {
		case flag.body != nil:
			*flag.dst = *flag.body
		case c.Query(flag.key) != "":
			v, err := strconv.ParseBool(c.Query(flag.key))
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": flag.key + " must be true or false"})
			}
			*flag.dst = v
		}
	}

	res, err := h.aggregator.Aggregate(c.UserContext(), req.Ticker, opts)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleReport returns the last saved report, or {} for an unknown ticker.
func (h *QuoteHandler) HandleReport(c *fiber.Ctx) error {
	report, err := h.aggregator.Report(c.UserContext(), param(c, "ticker"))
	if errors.Is(err, entity.ErrReportNotFound) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

func param(c *fiber.Ctx, name string) string {
	v := c.Params(name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

// writeError maps domain errors to a status and a message safe to show
// callers. Details stay in the log.
func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{"error": publicMessage(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidRequest),
		errors.Is(err, entity.ErrSignatureInvalid),
		errors.Is(err, entity.ErrMalformedPayload):
		return fiber.StatusBadRequest
	case errors.Is(err, entity.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, entity.ErrCreditsExhausted):
		return fiber.StatusPaymentRequired
	case errors.Is(err, entity.ErrAccountNotFound),
		errors.Is(err, entity.ErrConversationNotFound),
		errors.Is(err, entity.ErrReportNotFound):
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

func publicMessage(err error) string {
	for _, known := range []error{
		entity.ErrInvalidRequest,
		entity.ErrSignatureInvalid,
		entity.ErrMalformedPayload,
		entity.ErrUnauthorized,
		entity.ErrAccountNotFound,
		entity.ErrConversationNotFound,
		entity.ErrReportNotFound,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.Is(err, entity.ErrCreditsExhausted) {
		return "ran out of credits, upgrade to keep asking"
	}
	if errors.Is(err, entity.ErrUpstream) {
		return "an upstream service is unavailable, try again later"
	}
	return entity.ErrInternalServer.Error()
}
