package usecase

import (
	"context"
	"fmt"
	"log"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
)

// Allotments are the credit balances the ledger hands out.
type Allotments struct {
	Default  int // new accounts
	Member   int // active subscription
	Canceled int // after cancellation
}

// CreditLedger is the only path by which credits change. Each method maps to
// one atomic store operation; nothing here reads a balance and writes it back.
type CreditLedger struct {
	store      repository.AccountStore
	allotments Allotments
}

func NewCreditLedger(store repository.AccountStore, allotments Allotments) *CreditLedger {
	return &CreditLedger{store: store, allotments: allotments}
}

// Enforce meters one request. Running out of credits is reported through
// the result; the error is reserved for storage faults.
func (l *CreditLedger) Enforce(ctx context.Context, userKey string) (entity.EnforceResult, error) {
	if userKey == "" {
		return entity.EnforceResult{}, fmt.Errorf("%w: missing id_hash", entity.ErrInvalidRequest)
	}
	res, err := l.store.Enforce(ctx, userKey, l.allotments.Default)
	if err != nil {
		return entity.EnforceResult{}, fmt.Errorf("enforce credits: %w", err)
	}
	if res.Created {
		log.Printf("[LEDGER] Created account %s with %d credits", shortKey(userKey), res.Account.Credits)
	}
	if !res.Allowed() {
		log.Printf("[LEDGER] Rejected %s: out of credits", shortKey(userKey))
	}
	return res, nil
}

// GrantUnlimited marks the account as a member with the member allotment.
func (l *CreditLedger) GrantUnlimited(ctx context.Context, userKey, customerRef string) (*entity.Account, error) {
	acc, err := l.store.SetMembership(ctx, userKey, true, l.allotments.Member, customerRef)
	if err != nil {
		return nil, fmt.Errorf("grant membership: %w", err)
	}
	return acc, nil
}

// ResetToDefault ends membership and sets credits to amount.
func (l *CreditLedger) ResetToDefault(ctx context.Context, userKey string, amount int) (*entity.Account, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative credit amount", entity.ErrInvalidRequest)
	}
	acc, err := l.store.SetMembership(ctx, userKey, false, amount, "")
	if err != nil {
		return nil, fmt.Errorf("reset credits: %w", err)
	}
	return acc, nil
}

// Account returns the account, creating it with the default allotment.
func (l *CreditLedger) Account(ctx context.Context, userKey string) (*entity.Account, error) {
	if userKey == "" {
		return nil, fmt.Errorf("%w: missing id_hash", entity.ErrInvalidRequest)
	}
	acc, err := l.store.GetOrCreate(ctx, userKey, l.allotments.Default)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

func (l *CreditLedger) Allotments() Allotments {
	return l.allotments
}

// shortKey keeps user keys recognisable in logs without printing them whole.
func shortKey(k string) string {
	if len(k) <= 8 {
		return k
	}
	return k[:8]
}
