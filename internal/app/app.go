// Package app wires configuration into the stores, clients and use cases
// shared by the server and the ingestion CLI.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"fineas-core/internal/adapter/billing"
	"fineas-core/internal/adapter/client"
	"fineas-core/internal/adapter/store"
	"fineas-core/internal/chunker"
	"fineas-core/internal/config"
	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
	"fineas-core/internal/usecase"

	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// AccountBackend stores accounts, saved conversations and quote reports.
type AccountBackend interface {
	repository.AccountStore
	repository.ConversationStore
	repository.ReportStore
}

type App struct {
	Config *config.Config

	Accounts  AccountBackend
	Index     repository.VectorIndex
	Embedder  repository.Embedder
	Generator *usecase.ResilientProvider

	Ledger       *usecase.CreditLedger
	Ingestor     *usecase.Ingestor
	Orchestrator *usecase.Orchestrator
	AccountSvc   *usecase.AccountService
	Billing      *usecase.BillingConsumer // nil without STRIPE_WEBHOOK_SECRET
	Aggregator   *usecase.Aggregator      // nil without any market data service

	genai   *genai.Client
	closers []func() error
}

// Build connects every backend named by cfg. The caller owns Close.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	if a.Accounts, err = a.openAccounts(ctx); err != nil {
		return nil, err
	}
	if a.Index, err = a.openIndex(ctx); err != nil {
		return nil, err
	}
	if a.Embedder, err = a.newEmbedder(ctx); err != nil {
		return nil, err
	}
	if a.Generator, err = a.newGenerator(ctx); err != nil {
		return nil, err
	}

	a.Ledger = usecase.NewCreditLedger(a.Accounts, usecase.Allotments{
		Default:  cfg.DefaultCredits,
		Member:   cfg.MemberCredits,
		Canceled: cfg.CanceledCredits,
	})

	splitter := chunker.New(chunker.WithChunkSize(cfg.ChunkSize))
	a.Ingestor = usecase.NewIngestor(splitter, a.Embedder, a.Index, cfg.EmbeddingDim, cfg.EmbedConcurrency)

	assembler, err := a.newAssembler(ctx)
	if err != nil {
		return nil, err
	}
	a.Orchestrator = usecase.NewOrchestrator(a.Ledger, assembler, a.Generator)
	a.Aggregator = a.newAggregator()

	var gateway repository.BillingGateway
	if cfg.StripeSecretKey != "" || cfg.StripeWebhookSecret != "" {
		stripe := billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripePriceID, cfg.RedirectDomain)
		if cfg.StripeSecretKey != "" {
			gateway = stripe
		}
		if cfg.StripeWebhookSecret != "" {
			a.Billing = usecase.NewBillingConsumer(stripe, a.Ledger, a.Accounts)
		}
	}
	if gateway == nil {
		log.Println("[BILLING] STRIPE_SECRET_KEY not set, checkout and cancel are disabled")
	}
	a.AccountSvc = usecase.NewAccountService(a.Ledger, a.Accounts, a.Accounts, gateway)

	ok = true
	return a, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[APP] Close failed: %v", err)
		}
	}
	a.closers = nil
}

func (a *App) openAccounts(ctx context.Context) (AccountBackend, error) {
	cfg := a.Config
	switch cfg.LedgerBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisLedger(rdb), nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.SQLiteDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		log.Printf("[LEDGER] Using SQLite at %s", s.Path())
		return s, nil
	case "memory":
		log.Println("[LEDGER] Using in-memory ledger, balances are lost on restart")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
}

func (a *App) openIndex(ctx context.Context) (repository.VectorIndex, error) {
	cfg := a.Config
	switch cfg.VectorBackend {
	case "qdrant":
		qClient, err := qdrant.NewClient(&qdrant.Config{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantAPIKey != "",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		a.closers = append(a.closers, qClient.Close)
		index := store.NewQdrantStore(qClient, cfg.QdrantCollection, cfg.EmbeddingDim, cfg.IndexTimeout)
		if err := index.InitCollection(ctx); err != nil {
			return nil, fmt.Errorf("failed to init qdrant collection: %w", err)
		}
		return index, nil
	case "pgvector":
		index, err := store.NewPgvectorIndex(ctx, cfg.PgvectorDSN, cfg.EmbeddingDim, cfg.IndexTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.closers = append(a.closers, index.Close)
		if err := index.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to init pgvector schema: %w", err)
		}
		return index, nil
	case "memory":
		return store.NewMemoryIndex(cfg.EmbeddingDim), nil
	}
	return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
}

// genaiClient is shared by the Gemini embedder and generators.
func (a *App) genaiClient(ctx context.Context) (*genai.Client, error) {
	if a.genai != nil {
		return a.genai, nil
	}
	c, err := client.NewGenaiClient(ctx, a.Config.GeminiAPIKey, a.Config.GoogleProject, a.Config.GoogleLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to init genai client: %w", err)
	}
	a.genai = c
	return c, nil
}

func (a *App) newEmbedder(ctx context.Context) (repository.Embedder, error) {
	cfg := a.Config
	switch cfg.Embedder {
	case "gemini":
		gc, err := a.genaiClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.NewEmbedderFromClient(gc, cfg.EmbeddingModel), nil
	case "openai":
		return client.NewOpenAIEmbedderWithConfig(a.openAIConfig(), cfg.EmbeddingModel), nil
	}
	return nil, fmt.Errorf("unknown EMBEDDER %q", cfg.Embedder)
}

// openAIConfig points the OpenAI clients at OPENAI_BASE_URL when set, for
// compatible gateways.
func (a *App) openAIConfig() openai.ClientConfig {
	oc := openai.DefaultConfig(a.Config.OpenAIAPIKey)
	if a.Config.OpenAIBaseURL != "" {
		oc.BaseURL = a.Config.OpenAIBaseURL
	}
	return oc
}

func (a *App) newModel(ctx context.Context, model string) (repository.AIProvider, error) {
	cfg := a.Config
	system := cfg.Prompts.System
	switch cfg.Generator {
	case "gemini":
		gc, err := a.genaiClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.NewGeminiClientFromClient(gc, model, system), nil
	case "openai":
		return client.NewOpenAIClientWithConfig(a.openAIConfig(), model, system), nil
	case "anthropic":
		return client.NewAnthropicClient(cfg.AnthropicAPIKey, model, system), nil
	case "http":
		if cfg.LLMServiceURL == "" {
			return nil, fmt.Errorf("GENERATOR=http requires LLM_SERVICE_URL")
		}
		return client.NewLLMService(cfg.LLMServiceURL, cfg.PassHash(), cfg.GenerationTimeout), nil
	}
	return nil, fmt.Errorf("unknown GENERATOR %q", cfg.Generator)
}

func (a *App) newGenerator(ctx context.Context) (*usecase.ResilientProvider, error) {
	cfg := a.Config
	primary, err := a.newModel(ctx, cfg.GenerationModel)
	if err != nil {
		return nil, err
	}
	opts := []usecase.ResilientOption{
		usecase.WithAttempts(cfg.GenerationAttempts),
		usecase.WithRetryDelay(cfg.GenerationRetryDelay),
		usecase.WithAttemptTimeout(cfg.GenerationTimeout),
	}
	if cfg.FallbackModel != "" && cfg.Generator != "http" {
		fallback, err := a.newModel(ctx, cfg.FallbackModel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, usecase.WithFallback(fallback))
	}
	return usecase.NewResilientProvider(primary, opts...), nil
}

func (a *App) newAssembler(ctx context.Context) (*usecase.ContextAssembler, error) {
	cfg := a.Config
	var opts []usecase.AssemblerOption
	if cfg.SearchServiceURL != "" {
		opts = append(opts, usecase.WithAnnotator(client.NewSearchAnnotator(cfg.SearchServiceURL, cfg.PassHash(), cfg.IndexTimeout)))
	}
	if cfg.DateFilter {
		// One quick attempt; the filter is optional.
		model, err := a.newModel(ctx, cfg.GenerationModel)
		if err != nil {
			return nil, err
		}
		quick := usecase.NewResilientProvider(model, usecase.WithAttempts(1), usecase.WithAttemptTimeout(cfg.IndexTimeout))
		opts = append(opts, usecase.WithDateExtractor(client.NewDateExtractor(quick, cfg.Prompts.DateRange)))
	}
	return usecase.NewContextAssembler(a.Embedder, a.Index, cfg.Prompts.Persona, cfg.TopK, cfg.MaxPromptChars, opts...), nil
}

func (a *App) newAggregator() *usecase.Aggregator {
	cfg := a.Config
	tpl := cfg.Prompts.Quote
	candidates := []struct {
		url, kind string
		section   usecase.QuoteSection
	}{
		{cfg.StockServiceURL, entity.QuoteStock, usecase.QuoteSection{
			Category: entity.CategoryStockPerformance, Template: tpl.Stock,
			Search: "{ticker} financial price information for {year}",
		}},
		{cfg.FinancialsServiceURL, entity.QuoteFinancials, usecase.QuoteSection{
			Category: entity.CategoryFinancialHealth, Template: tpl.Financials,
			Search: "{ticker} financials and 10k filings for {year}",
		}},
		{cfg.NewsServiceURL, entity.QuoteNews, usecase.QuoteSection{
			Category: entity.CategoryNewsSummary, Template: tpl.News,
		}},
		{cfg.DescriptionServiceURL, entity.QuoteDescription, usecase.QuoteSection{
			Category: entity.CategoryCompanyDesc, Template: tpl.Description,
			Search: "{ticker} company description",
		}},
		{cfg.TechnicalServiceURL, entity.QuoteTechnical, usecase.QuoteSection{
			Category: entity.CategoryTechnicalAnalysis, Template: tpl.Technical,
		}},
	}

	var sections []usecase.QuoteSection
	for _, c := range candidates {
		if c.url == "" {
			continue
		}
		c.section.Source = client.NewQuoteService(c.url, c.kind, cfg.PassHash(), cfg.IndexTimeout)
		sections = append(sections, c.section)
	}
	if len(sections) == 0 {
		log.Println("[AGGREGATOR] No market data service configured, quote routes are disabled")
		return nil
	}

	opts := []usecase.AggregatorOption{usecase.WithReportStore(a.Accounts)}
	if cfg.SearchServiceURL != "" {
		opts = append(opts, usecase.WithQuoteAnnotator(client.NewSearchAnnotator(cfg.SearchServiceURL, cfg.PassHash(), cfg.IndexTimeout)))
	}
	return usecase.NewAggregator(sections, a.Generator, a.Ingestor, opts...)
}

// Warm makes one embedding and one generation call so the first user
// request does not pay for cold upstreams.
func (a *App) Warm(timeout time.Duration) {
	warmCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := a.Embedder.CreateEmbedding(warmCtx, "warmup"); err != nil {
		log.Printf("[SENTINEL-WARMER] Embedder warm-up failed: %v", err)
	}
	if _, err := a.Generator.Generate(warmCtx, "."); err != nil {
		log.Printf("[SENTINEL-WARMER] Generator warm-up failed: %v", err)
	}
	log.Println("[SENTINEL-WARMER] Pre-warm complete. Gateway is HOT.")
}
