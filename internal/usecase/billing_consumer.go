package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
)

// BillingConsumer applies verified payment-provider events to the ledger.
// Both transitions set absolute values, so redelivered events are harmless.
type BillingConsumer struct {
	verifier repository.EventVerifier
	ledger   *CreditLedger
	accounts repository.AccountStore
}

func NewBillingConsumer(verifier repository.EventVerifier, ledger *CreditLedger, accounts repository.AccountStore) *BillingConsumer {
	return &BillingConsumer{verifier: verifier, ledger: ledger, accounts: accounts}
}

// Apply verifies payload against signature before touching any state. It
// returns entity.ErrSignatureInvalid or entity.ErrMalformedPayload for
// events that must be refused.
func (b *BillingConsumer) Apply(ctx context.Context, payload []byte, signature string) (*entity.BillingEvent, error) {
	event, err := b.verifier.VerifyEvent(payload, signature)
	if err != nil {
		log.Printf("[BILLING] Rejected webhook: %v", err)
		return nil, err
	}

	switch event.Type {
	case entity.SubscriptionCompleted:
		if event.UserKey == "" {
			return nil, fmt.Errorf("%w: %s without id_hash", entity.ErrMalformedPayload, event.ProviderRaw)
		}
		acc, err := b.ledger.GrantUnlimited(ctx, event.UserKey, event.CustomerRef)
		if err != nil {
			return nil, err
		}
		log.Printf("[BILLING] Event %s: %s is now a member (%d credits)", event.ID, shortKey(acc.UserKey), acc.Credits)

	case entity.SubscriptionCanceled:
		userKey, err := b.resolveUser(ctx, event)
		if errors.Is(err, entity.ErrAccountNotFound) {
			log.Printf("[BILLING] Event %s: no account for canceled customer, ignoring", event.ID)
			return event, nil
		}
		if err != nil {
			return nil, err
		}
		acc, err := b.ledger.ResetToDefault(ctx, userKey, b.ledger.Allotments().Canceled)
		if err != nil {
			return nil, err
		}
		log.Printf("[BILLING] Event %s: membership of %s canceled (%d credits)", event.ID, shortKey(acc.UserKey), acc.Credits)

	default:
		log.Printf("[BILLING] Event %s of type %s acknowledged, no ledger effect", event.ID, event.ProviderRaw)
	}
	return event, nil
}

func (b *BillingConsumer) resolveUser(ctx context.Context, event *entity.BillingEvent) (string, error) {
	if event.UserKey != "" {
		return event.UserKey, nil
	}
	if event.CustomerRef == "" {
		return "", fmt.Errorf("%w: %s without customer", entity.ErrMalformedPayload, event.ProviderRaw)
	}
	acc, err := b.accounts.FindByCustomerRef(ctx, event.CustomerRef)
	if err != nil {
		return "", err
	}
	return acc.UserKey, nil
}
