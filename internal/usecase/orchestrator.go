package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
)

// Orchestrator runs the query path: meter, assemble, generate.
type Orchestrator struct {
	ledger    *CreditLedger
	assembler *ContextAssembler
	generator repository.AIProvider
}

func NewOrchestrator(ledger *CreditLedger, assembler *ContextAssembler, generator repository.AIProvider) *Orchestrator {
	return &Orchestrator{ledger: ledger, assembler: assembler, generator: generator}
}

// Execute answers req.Prompt. When req.UserKey is set a credit is spent
// before any retrieval or generation and is not refunded if they fail.
func (u *Orchestrator) Execute(ctx context.Context, req entity.AIRequest) (*entity.AIResponse, error) {
	start := time.Now()

	var (
		metered   bool
		remaining int
	)
	if req.UserKey != "" {
		res, err := u.ledger.Enforce(ctx, req.UserKey)
		if err != nil {
			return nil, err
		}
		if !res.Allowed() {
			return nil, entity.ErrCreditsExhausted
		}
		metered = true
		remaining = res.Account.Credits
	}

	prompt, err := u.assembler.Assemble(ctx, req.Prompt)
	if err != nil {
		return nil, err
	}
	if prompt.Dropped > 0 {
		log.Printf("[SENTINEL] Dropped %d passage(s) to fit the prompt budget", prompt.Dropped)
	}

	resp, err := u.generator.Generate(ctx, prompt.Text)
	if err != nil {
		return nil, fmt.Errorf("AI provider generation failed: %w", err)
	}

	resp.Metered = metered
	resp.RemainingCredits = remaining
	resp.Passages = len(prompt.Passages)
	resp.Latency = time.Since(start).Milliseconds()
	return resp, nil
}
