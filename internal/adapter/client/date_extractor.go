package client

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
)

var datePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// DateExtractor asks the model which ingestion-date window a question is
// about, so retrieval can be limited to it.
type DateExtractor struct {
	provider    repository.AIProvider
	instruction string
}

func NewDateExtractor(provider repository.AIProvider, instruction string) *DateExtractor {
	return &DateExtractor{provider: provider, instruction: instruction}
}

func (e *DateExtractor) ExtractDateRange(ctx context.Context, prompt string) (*entity.DateRange, error) {
	resp, err := e.provider.Generate(ctx, e.instruction+"\nPrompt: "+prompt)
	if err != nil {
		return nil, err
	}
	return ParseDateRange(resp.Content)
}

// ParseDateRange reads the first two YYYY-MM-DD dates in s, in either order.
func ParseDateRange(s string) (*entity.DateRange, error) {
	found := datePattern.FindAllString(s, 2)
	if len(found) != 2 {
		return nil, fmt.Errorf("expected two dates, got %q", s)
	}
	from, err := time.Parse(time.DateOnly, found[0])
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", found[0], err)
	}
	to, err := time.Parse(time.DateOnly, found[1])
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", found[1], err)
	}
	if to.Before(from) {
		from, to = to, from
	}
	return &entity.DateRange{From: from, To: to}, nil
}
