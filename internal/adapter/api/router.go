package api

import (
	"crypto/subtle"
	"strings"

	"fineas-core/internal/domain/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Handlers struct {
	Prompt  *PromptHandler
	Ingest  *IngestHandler
	Account *AccountHandler
	Billing *BillingHandler // nil disables the webhook route
	Quote   *QuoteHandler   // nil disables the quote routes
}

type RouterConfig struct {
	PassHash string
	Version  string
	Env      string
}

func SetupRouter(app *fiber.App, h Handlers, cfg RouterConfig) {
	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "healthy",
			"version": cfg.Version,
			"env":     cfg.Env,
		})
	})

	// API Versioning
	v1 := app.Group("/v1")
	auth := bearerAuth(cfg.PassHash)

	v1.Post("/chat", auth, h.Prompt.HandlePrompt)
	v1.Post("/ingest", auth, h.Ingest.HandleIngest)
	if h.Quote != nil {
		v1.Post("/quote", auth, h.Quote.HandleQuote)
		v1.Get("/quote/:ticker", h.Quote.HandleReport)
	}

	v1.Post("/credits/enforce", h.Account.HandleEnforce)
	if h.Billing != nil {
		v1.Post("/billing/webhook", h.Billing.HandleWebhook)
	}

	users := v1.Group("/users")
	users.Post("/checkout", h.Account.HandleCheckout)
	users.Post("/cancel", h.Account.HandleCancel)
	users.Get("/:id_hash", h.Account.HandleUserInfo)

	convs := v1.Group("/conversations")
	convs.Post("/", h.Account.HandleSaveConversation)
	convs.Get("/:id_hash", h.Account.HandleListConversations)
	convs.Get("/:id_hash/:name", h.Account.HandleLoadConversation)
	convs.Delete("/:id_hash/:name", h.Account.HandleDeleteConversation)
}

// bearerAuth accepts "Authorization: Bearer <hash>" where hash is the hex
// SHA-256 of the configured pass key. An empty passHash rejects everything.
func bearerAuth(passHash string) fiber.Handler {
	want := []byte(passHash)
	return func(c *fiber.Ctx) error {
		got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": entity.ErrUnauthorized.Error()})
		}
		return c.Next()
	}
}
