package entity

import (
	"strings"
	"time"
)

// Market data kinds served by the quote services.
const (
	QuoteStock       = "stk"
	QuoteFinancials  = "fin"
	QuoteNews        = "news"
	QuoteDescription = "desc"
	QuoteTechnical   = "ta"
)

// Summary categories. They double as the index categories a ticker's
// report is ingested under.
const (
	CategoryStockPerformance  = "StockPerformance"
	CategoryFinancialHealth   = "FinancialHealth"
	CategoryNewsSummary       = "NewsSummary"
	CategoryCompanyDesc       = "CompanyDesc"
	CategoryTechnicalAnalysis = "TechnicalAnalysis"
)

// QuoteSummary is the model-written market report for one ticker.
type QuoteSummary struct {
	Ticker            string    `json:"Ticker"`
	StockPerformance  string    `json:"StockPerformance"`
	FinancialHealth   string    `json:"FinancialHealth"`
	NewsSummary       string    `json:"NewsSummary"`
	CompanyDesc       string    `json:"CompanyDesc"`
	TechnicalAnalysis string    `json:"TechnicalAnalysis"`
	UpdatedAt         time.Time `json:"UpdatedAt"`
}

// Set stores text under the named category. Unknown categories are ignored.
func (q *QuoteSummary) Set(category, text string) {
	switch category {
	case CategoryStockPerformance:
		q.StockPerformance = text
	case CategoryFinancialHealth:
		q.FinancialHealth = text
	case CategoryNewsSummary:
		q.NewsSummary = text
	case CategoryCompanyDesc:
		q.CompanyDesc = text
	case CategoryTechnicalAnalysis:
		q.TechnicalAnalysis = text
	}
}

// Sections returns the non-empty categories keyed by name.
func (q *QuoteSummary) Sections() map[string]string {
	out := make(map[string]string, 5)
	for name, text := range map[string]string{
		CategoryStockPerformance:  q.StockPerformance,
		CategoryFinancialHealth:   q.FinancialHealth,
		CategoryNewsSummary:       q.NewsSummary,
		CategoryCompanyDesc:       q.CompanyDesc,
		CategoryTechnicalAnalysis: q.TechnicalAnalysis,
	} {
		if strings.TrimSpace(text) != "" {
			out[name] = text
		}
	}
	return out
}

// SourceKeyForTicker drops the crypto ("X:") and index ("I:") market
// prefixes, so "X:BTCUSD" is indexed as "BTCUSD".
func SourceKeyForTicker(ticker string) string {
	if strings.HasPrefix(ticker, "X:") || strings.HasPrefix(ticker, "I:") {
		return ticker[2:]
	}
	return ticker
}
