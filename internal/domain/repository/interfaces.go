package repository

import (
	"context"

	"fineas-core/internal/domain/entity"
)

// VectorIndex stores embedded chunks and answers nearest-neighbour queries.
// Query results are ordered by descending score, then most recent
// ingestion first.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []entity.DocumentChunk) error
	Query(ctx context.Context, vector []float32, topK int, dates *entity.DateRange) ([]entity.ScoredChunk, error)
	// DeleteSuperseded removes chunks of (sourceKey, category) that were not
	// written by batchID and were ingested before the given unix-nano stamp.
	// A newer batch is never removed by an older one.
	DeleteSuperseded(ctx context.Context, sourceKey, category, batchID string, before int64) error
}

// AccountStore is the persistence side of the credit ledger. Every method
// is a single atomic operation against concurrent callers for the same key.
type AccountStore interface {
	// Enforce creates the account with defaultCredits if absent (allowed, no
	// decrement), decrements one credit if any remain, allows members at
	// zero, and rejects everyone else.
	Enforce(ctx context.Context, userKey string, defaultCredits int) (entity.EnforceResult, error)
	GetOrCreate(ctx context.Context, userKey string, defaultCredits int) (*entity.Account, error)
	// SetMembership sets is_member and overwrites credits, creating the
	// account if needed. A non-empty customerRef is recorded as well.
	SetMembership(ctx context.Context, userKey string, member bool, credits int, customerRef string) (*entity.Account, error)
	SetCustomerRef(ctx context.Context, userKey, customerRef string) error
	FindByCustomerRef(ctx context.Context, customerRef string) (*entity.Account, error)
}

type ConversationStore interface {
	SaveConversation(ctx context.Context, conv entity.Conversation) error
	LoadConversation(ctx context.Context, owner, name string) (*entity.Conversation, error)
	DeleteConversation(ctx context.Context, owner, name string) error
	ListConversations(ctx context.Context, owner string) ([]string, error)
}

// ReportStore keeps the latest quote summary per ticker.
type ReportStore interface {
	SaveReport(ctx context.Context, report entity.QuoteSummary) error
	// LoadReport returns entity.ErrReportNotFound for an unknown ticker.
	LoadReport(ctx context.Context, ticker string) (*entity.QuoteSummary, error)
}

// QuoteSource fetches one kind of raw market data for a ticker.
type QuoteSource interface {
	FetchQuote(ctx context.Context, ticker string) (string, error)
}

type AIProvider interface {
	Generate(ctx context.Context, prompt string) (*entity.AIResponse, error)
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Annotator supplies supplementary search context for a query.
type Annotator interface {
	Annotate(ctx context.Context, query string) (string, error)
}

// DateExtractor infers the ingestion-date window a question refers to.
// A nil range means no filter.
type DateExtractor interface {
	ExtractDateRange(ctx context.Context, prompt string) (*entity.DateRange, error)
}

// EventVerifier authenticates a raw provider webhook and reduces it to a
// BillingEvent. It returns entity.ErrSignatureInvalid or
// entity.ErrMalformedPayload.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*entity.BillingEvent, error)
}

type BillingGateway interface {
	CreateCustomer(ctx context.Context, userKey string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerRef, userKey string) (id, url string, err error)
	CancelSubscriptions(ctx context.Context, customerRef string) (int, error)
}
