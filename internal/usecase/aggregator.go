package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"

	"golang.org/x/sync/errgroup"
)

var errReportsDisabled = errors.New("report store not configured")

// QuoteSection turns one kind of raw market data into one summary category.
type QuoteSection struct {
	Category string
	Source   repository.QuoteSource
	Template string
	// Search is the annotation query; "{ticker}" and "{year}" are filled
	// in. Empty skips the annotation.
	Search string
}

// AggregateOptions selects what happens to a finished summary.
type AggregateOptions struct {
	Index bool // ingest the sections under the ticker's source key
	Save  bool // keep the summary for report lookups
}

// QuoteResult is a summary plus what was done with it.
type QuoteResult struct {
	Summary entity.QuoteSummary `json:"summary"`
	Failed  []string            `json:"failed,omitempty"`
	Indexed *IngestReport       `json:"indexed,omitempty"`
	Saved   bool                `json:"saved"`
}

// Aggregator builds per-ticker market reports. Each section's raw data is
// summarised by the model, and the result can be fed to the ingestor so
// the chat path can retrieve it.
type Aggregator struct {
	sections  []QuoteSection
	model     repository.AIProvider
	ingestor  *Ingestor
	annotator repository.Annotator
	reports   repository.ReportStore
	now       func() time.Time
}

type AggregatorOption func(*Aggregator)

func WithQuoteAnnotator(a repository.Annotator) AggregatorOption {
	return func(g *Aggregator) { g.annotator = a }
}

func WithReportStore(r repository.ReportStore) AggregatorOption {
	return func(g *Aggregator) { g.reports = r }
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(g *Aggregator) { g.now = now }
}

func NewAggregator(sections []QuoteSection, model repository.AIProvider, ingestor *Ingestor, opts ...AggregatorOption) *Aggregator {
	g := &Aggregator{
		sections: sections,
		model:    model,
		ingestor: ingestor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Aggregate summarises every section for ticker. A section whose data or
// generation fails is left empty and listed in Failed; the call only fails
// when no section produced anything or a requested index/save step fails.
func (g *Aggregator) Aggregate(ctx context.Context, ticker string, opts AggregateOptions) (*QuoteResult, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("%w: missing ticker", entity.ErrInvalidRequest)
	}
	if opts.Save && g.reports == nil {
		return nil, entity.NewUpstreamError("reports", 0, errReportsDisabled)
	}

	now := g.now().UTC()
	texts := make([]string, len(g.sections))
	errs := make([]error, len(g.sections))

	var eg errgroup.Group
	for i, section := range g.sections {
		eg.Go(func() error {
			texts[i], errs[i] = g.summarise(ctx, ticker, now.Year(), section)
			return nil
		})
	}
	_ = eg.Wait()

	res := &QuoteResult{Summary: entity.QuoteSummary{Ticker: ticker, UpdatedAt: now}}
	var firstErr error
	for i, section := range g.sections {
		if errs[i] != nil {
			log.Printf("[AGGREGATOR] %s/%s failed: %v", ticker, section.Category, errs[i])
			res.Failed = append(res.Failed, section.Category)
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		res.Summary.Set(section.Category, texts[i])
	}

	sections := res.Summary.Sections()
	if len(sections) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("no section summarised for %s: %w", ticker, firstErr)
		}
		return nil, fmt.Errorf("%w: no market data for %s", entity.ErrInvalidRequest, ticker)
	}

	if opts.Index {
		report, err := g.ingestor.Ingest(ctx, entity.SourceKeyForTicker(ticker), sections, now)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", ticker, err)
		}
		res.Indexed = report
	}
	if opts.Save {
		if err := g.reports.SaveReport(ctx, res.Summary); err != nil {
			return nil, fmt.Errorf("save report %s: %w", ticker, err)
		}
		res.Saved = true
	}
	log.Printf("[AGGREGATOR] %s: %d section(s), %d failed", ticker, len(sections), len(res.Failed))
	return res, nil
}

// Report returns the last saved summary for ticker.
func (g *Aggregator) Report(ctx context.Context, ticker string) (*entity.QuoteSummary, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("%w: missing ticker", entity.ErrInvalidRequest)
	}
	if g.reports == nil {
		return nil, entity.ErrReportNotFound
	}
	return g.reports.LoadReport(ctx, ticker)
}

func (g *Aggregator) summarise(ctx context.Context, ticker string, year int, section QuoteSection) (string, error) {
	data, err := section.Source.FetchQuote(ctx, ticker)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(section.Template)
	b.WriteString("For ASSET_NAME: ")
	b.WriteString(ticker)
	b.WriteString("\n")
	b.WriteString(data)
	if section.Search != "" && g.annotator != nil {
		query := strings.NewReplacer("{ticker}", ticker, "{year}", strconv.Itoa(year)).Replace(section.Search)
		// Annotations are best effort.
		if note, err := g.annotator.Annotate(ctx, query); err == nil && note != "" {
			b.WriteString("\n")
			b.WriteString(note)
		}
	}

	resp, err := g.model.Generate(ctx, b.String())
	if err != nil {
		return "", err
	}
	return cleanSummary(resp.Content), nil
}

// cleanSummary strips a wrapping object brace pair and turns any other
// braces into pipes, so summaries survive being embedded in JSON form
// fields downstream.
func cleanSummary(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "{}")
	s = strings.NewReplacer("{", "|", "}", "|").Replace(s)
	return strings.TrimSpace(s)
}
