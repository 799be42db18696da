package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
)

var errBillingDisabled = errors.New("billing provider not configured")

// AccountService backs the user-facing account and conversation endpoints.
type AccountService struct {
	ledger        *CreditLedger
	accounts      repository.AccountStore
	conversations repository.ConversationStore
	gateway       repository.BillingGateway // nil when billing is not configured
}

func NewAccountService(ledger *CreditLedger, accounts repository.AccountStore, conversations repository.ConversationStore, gateway repository.BillingGateway) *AccountService {
	return &AccountService{
		ledger:        ledger,
		accounts:      accounts,
		conversations: conversations,
		gateway:       gateway,
	}
}

func (s *AccountService) UserInfo(ctx context.Context, userKey string) (*entity.Account, error) {
	return s.ledger.Account(ctx, userKey)
}

// Checkout opens a subscription checkout for the user, creating the
// provider-side customer on first use.
func (s *AccountService) Checkout(ctx context.Context, userKey string) (*entity.CheckoutSession, error) {
	if s.gateway == nil {
		return nil, entity.NewUpstreamError("billing", 0, errBillingDisabled)
	}
	acc, err := s.ledger.Account(ctx, userKey)
	if err != nil {
		return nil, err
	}

	if acc.BillingCustomerRef == "" {
		ref, err := s.gateway.CreateCustomer(ctx, userKey)
		if err != nil {
			return nil, fmt.Errorf("create billing customer: %w", err)
		}
		if err := s.accounts.SetCustomerRef(ctx, userKey, ref); err != nil {
			return nil, fmt.Errorf("store billing customer: %w", err)
		}
		acc.BillingCustomerRef = ref
		log.Printf("[BILLING] Created customer for %s", shortKey(userKey))
	}

	id, url, err := s.gateway.CreateCheckoutSession(ctx, acc.BillingCustomerRef, userKey)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &entity.CheckoutSession{ID: id, URL: url, Account: *acc}, nil
}

// Cancel stops every active subscription of the customer and resets the
// matching account to the post-cancellation allotment. Subscriptions are
// canceled even when no account carries customerRef; that case returns
// entity.ErrAccountNotFound afterwards.
func (s *AccountService) Cancel(ctx context.Context, customerRef string) (*entity.Account, error) {
	if s.gateway == nil {
		return nil, entity.NewUpstreamError("billing", 0, errBillingDisabled)
	}
	if strings.TrimSpace(customerRef) == "" {
		return nil, fmt.Errorf("%w: missing billing_customer_ref", entity.ErrInvalidRequest)
	}
	n, err := s.gateway.CancelSubscriptions(ctx, customerRef)
	if err != nil {
		return nil, fmt.Errorf("cancel subscriptions: %w", err)
	}
	acc, err := s.accounts.FindByCustomerRef(ctx, customerRef)
	if err != nil {
		return nil, err
	}
	log.Printf("[BILLING] Canceled %d subscription(s) for %s", n, shortKey(acc.UserKey))
	return s.ledger.ResetToDefault(ctx, acc.UserKey, s.ledger.Allotments().Canceled)
}

// SaveConversation upserts conv and returns the owner's conversation names.
func (s *AccountService) SaveConversation(ctx context.Context, conv entity.Conversation) ([]string, error) {
	if conv.Owner == "" || strings.TrimSpace(conv.Name) == "" {
		return nil, fmt.Errorf("%w: id_hash and name are required", entity.ErrInvalidRequest)
	}
	if err := s.conversations.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}
	return s.conversations.ListConversations(ctx, conv.Owner)
}

func (s *AccountService) LoadConversation(ctx context.Context, owner, name string) (*entity.Conversation, error) {
	return s.conversations.LoadConversation(ctx, owner, name)
}

// DeleteConversation removes one conversation and returns the names left.
func (s *AccountService) DeleteConversation(ctx context.Context, owner, name string) ([]string, error) {
	if err := s.conversations.DeleteConversation(ctx, owner, name); err != nil {
		return nil, err
	}
	return s.conversations.ListConversations(ctx, owner)
}

func (s *AccountService) ListConversations(ctx context.Context, owner string) ([]string, error) {
	return s.conversations.ListConversations(ctx, owner)
}
