package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
)

// ContextAssembler retrieves the passages relevant to a question and renders
// them, with the persona and optional search annotations, into one prompt
// no longer than maxChars.
type ContextAssembler struct {
	embedder  repository.Embedder
	index     repository.VectorIndex
	annotator repository.Annotator
	dates     repository.DateExtractor
	persona   string
	topK      int
	maxChars  int
	now       func() time.Time
}

type AssemblerOption func(*ContextAssembler)

func WithAnnotator(a repository.Annotator) AssemblerOption {
	return func(c *ContextAssembler) { c.annotator = a }
}

func WithDateExtractor(d repository.DateExtractor) AssemblerOption {
	return func(c *ContextAssembler) { c.dates = d }
}

func WithClock(now func() time.Time) AssemblerOption {
	return func(c *ContextAssembler) { c.now = now }
}

func NewContextAssembler(embedder repository.Embedder, index repository.VectorIndex, persona string, topK, maxChars int, opts ...AssemblerOption) *ContextAssembler {
	c := &ContextAssembler{
		embedder: embedder,
		index:    index,
		persona:  persona,
		topK:     topK,
		maxChars: maxChars,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ContextAssembler) Assemble(ctx context.Context, query string) (*entity.AssembledPrompt, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: missing prompt", entity.ErrInvalidRequest)
	}

	var dates *entity.DateRange
	if c.dates != nil {
		dr, err := c.dates.ExtractDateRange(ctx, query)
		if err != nil {
			log.Printf("[ASSEMBLER] Date extraction skipped: %v", err)
		} else {
			dates = dr
		}
	}

	vector, err := c.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := c.index.Query(ctx, vector, c.topK, dates)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(hits) == 0 && dates != nil {
		// Nothing was ingested inside the window; answer from the whole corpus.
		dates = nil
		hits, err = c.index.Query(ctx, vector, c.topK, nil)
		if err != nil {
			return nil, fmt.Errorf("query index: %w", err)
		}
	}

	passages := make([]string, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, h.Chunk.Text)
	}

	var annotation string
	if c.annotator != nil {
		annotation, err = c.annotator.Annotate(ctx, query)
		if err != nil {
			log.Printf("[ASSEMBLER] Annotation skipped: %v", err)
			annotation = ""
		}
	}

	out := c.fit(query, annotation, passages)
	out.DateFilter = dates
	return out, nil
}

// fit renders the prompt, dropping the least relevant passage until it fits
// and then the annotation. The query itself is never shortened.
func (c *ContextAssembler) fit(query, annotation string, passages []string) *entity.AssembledPrompt {
	currentDate := c.now().Format("01-02-2006")
	kept := len(passages)
	withAnnotation := annotation != ""

	text := c.render(currentDate, query, annotation, withAnnotation, passages[:kept])
	for c.maxChars > 0 && utf8.RuneCountInString(text) > c.maxChars {
		switch {
		case kept > 0:
			kept--
		case withAnnotation:
			withAnnotation = false
		default:
			log.Printf("[ASSEMBLER] Prompt exceeds budget with no context left (%d > %d chars)",
				utf8.RuneCountInString(text), c.maxChars)
			return &entity.AssembledPrompt{Text: text, Dropped: len(passages)}
		}
		text = c.render(currentDate, query, annotation, withAnnotation, passages[:kept])
	}

	return &entity.AssembledPrompt{
		Text:          text,
		Passages:      passages[:kept],
		Dropped:       len(passages) - kept,
		HasAnnotation: withAnnotation,
	}
}

func (c *ContextAssembler) render(currentDate, query, annotation string, withAnnotation bool, passages []string) string {
	var b strings.Builder
	if c.persona != "" {
		b.WriteString(c.persona)
		b.WriteString("\n\n")
	}
	b.WriteString("CURRENT DATE:\n")
	b.WriteString(currentDate)
	b.WriteString("\n\nPROMPT:\n")
	b.WriteString(query)
	if withAnnotation {
		b.WriteString("\n\nANNOTATIONS:\n")
		b.WriteString(annotation)
	}
	b.WriteString("\n\nCONTEXT:\n")
	b.WriteString(strings.Join(passages, "\n\n"))
	return b.String()
}
