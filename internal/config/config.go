package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	Env        string
	AppVersion string
	PassKey    string

	LedgerBackend string
	RedisAddr     string
	RedisPassword string
	SQLiteDir     string

	VectorBackend    string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string
	PgvectorDSN      string
	EmbeddingDim     int

	Embedder       string
	EmbeddingModel string

	Generator       string
	GenerationModel string
	FallbackModel   string
	LLMServiceURL   string

	GoogleProject   string
	GoogleLocation  string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string

	GenerationAttempts   int
	GenerationRetryDelay time.Duration
	GenerationTimeout    time.Duration
	IndexTimeout         time.Duration
	EmbedConcurrency     int

	TopK           int
	ChunkSize      int
	MaxPromptChars int

	SearchServiceURL string
	DateFilter       bool

	// Market data services read by the quote aggregator. A section whose
	// URL is empty is skipped.
	StockServiceURL       string
	FinancialsServiceURL  string
	NewsServiceURL        string
	DescriptionServiceURL string
	TechnicalServiceURL   string

	DefaultCredits  int
	MemberCredits   int
	CanceledCredits int

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	RedirectDomain      string

	Prompts Prompts
}

// PassHash is the bearer credential callers must present. It is empty when
// no PASS_KEY is configured, which locks the bearer-protected routes.
func (c *Config) PassHash() string {
	if c.PassKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.PassKey))
	return hex.EncodeToString(sum[:])
}

// Load reads the dotenv file (if any) and parses the environment.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env.dev"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("Warning: %s file not found, using system environment variables", envFile)
	}
	return FromEnv()
}

// FromEnv parses the process environment without touching dotenv files.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Port:       p.str("PORT", "8080"),
		Env:        p.str("ENV", "dev"),
		AppVersion: p.str("APP_VERSION", "dev"),
		PassKey:    p.str("PASS_KEY", ""),

		LedgerBackend: strings.ToLower(p.str("LEDGER_BACKEND", "redis")),
		RedisAddr:     p.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		SQLiteDir:     p.str("SQLITE_DIR", "./data"),

		VectorBackend:    strings.ToLower(p.str("VECTOR_BACKEND", "qdrant")),
		QdrantHost:       p.str("QDRANT_HOST", "localhost"),
		QdrantPort:       p.integer("QDRANT_PORT", 6334),
		QdrantAPIKey:     p.str("QDRANT_API_KEY", ""),
		QdrantCollection: p.str("QDRANT_COLLECTION", "fineas-chunks"),
		PgvectorDSN:      p.str("PGVECTOR_DSN", ""),
		EmbeddingDim:     p.integer("EMBEDDING_DIM", 768),

		Embedder:       strings.ToLower(p.str("EMBEDDER", "gemini")),
		EmbeddingModel: p.str("EMBEDDING_MODEL", "text-embedding-004"),

		Generator:       strings.ToLower(p.str("GENERATOR", "gemini")),
		GenerationModel: p.str("GENERATION_MODEL", "gemini-2.5-flash"),
		FallbackModel:   p.str("FALLBACK_MODEL", ""),
		LLMServiceURL:   p.str("LLM_SERVICE_URL", ""),

		GoogleProject:   p.str("GOOGLE_CLOUD_PROJECT", ""),
		GoogleLocation:  p.str("GOOGLE_CLOUD_LOCATION", ""),
		GeminiAPIKey:    p.str("GEMINI_API_KEY", ""),
		OpenAIAPIKey:    p.str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   p.str("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: p.str("ANTHROPIC_API_KEY", ""),

		GenerationAttempts:   p.integer("GENERATION_ATTEMPTS", 3),
		GenerationRetryDelay: p.duration("GENERATION_RETRY_DELAY", 2*time.Second),
		GenerationTimeout:    p.duration("GENERATION_TIMEOUT", 60*time.Second),
		IndexTimeout:         p.duration("INDEX_TIMEOUT", 10*time.Second),
		EmbedConcurrency:     p.integer("EMBED_CONCURRENCY", 4),

		TopK:           p.integer("TOP_K", 7),
		ChunkSize:      p.integer("CHUNK_SIZE", 500),
		MaxPromptChars: p.integer("MAX_PROMPT_CHARS", 16000),

		SearchServiceURL: p.str("SEARCH_SERVICE_URL", ""),
		DateFilter:       p.boolean("DATE_FILTER", false),

		StockServiceURL:       p.str("STK_SERVICE_URL", ""),
		FinancialsServiceURL:  p.str("FIN_SERVICE_URL", ""),
		NewsServiceURL:        p.str("NEWS_SERVICE_URL", ""),
		DescriptionServiceURL: p.str("DESC_SERVICE_URL", ""),
		TechnicalServiceURL:   p.str("TA_SERVICE_URL", ""),

		DefaultCredits:  p.integer("DEFAULT_CREDITS", 25),
		MemberCredits:   p.integer("MEMBER_CREDITS", 1000000),
		CanceledCredits: p.integer("CANCELED_CREDITS", 3),

		StripeSecretKey:     p.str("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: p.str("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceID:       p.str("STRIPE_PRICE_ID", ""),
		RedirectDomain:      p.str("REDIRECT_DOMAIN", ""),
	}
	if p.err != nil {
		return nil, p.err
	}

	prompts, err := LoadPrompts(os.Getenv("PROMPTS_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Prompts = *prompts

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.TopK < 1 || c.TopK > 50:
		return fmt.Errorf("TOP_K must be between 1 and 50, got %d", c.TopK)
	case c.ChunkSize < 1:
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	case c.EmbeddingDim < 1:
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	case c.GenerationAttempts < 1:
		return fmt.Errorf("GENERATION_ATTEMPTS must be at least 1, got %d", c.GenerationAttempts)
	case c.DefaultCredits < 0 || c.MemberCredits < 0 || c.CanceledCredits < 0:
		return fmt.Errorf("credit allotments must not be negative")
	}
	return nil
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b
}
