package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fineas-core/internal/domain/entity"
)

// MemoryStore keeps accounts and conversations in process memory. A single
// mutex makes every ledger operation atomic.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[string]*entity.Account
	conversations map[string]map[string]entity.Conversation
	reports       map[string]entity.QuoteSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]*entity.Account),
		conversations: make(map[string]map[string]entity.Conversation),
		reports:       make(map[string]entity.QuoteSummary),
	}
}

func (m *MemoryStore) Enforce(_ context.Context, userKey string, defaultCredits int) (entity.EnforceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[userKey]
	if !ok {
		acc = m.create(userKey, defaultCredits)
		return entity.EnforceResult{Outcome: entity.Allowed, Account: *acc, Created: true}, nil
	}
	switch {
	case acc.Credits > 0:
		acc.Credits--
	case !acc.IsMember:
		return entity.EnforceResult{Outcome: entity.Rejected, Account: *acc}, nil
	}
	return entity.EnforceResult{Outcome: entity.Allowed, Account: *acc}, nil
}

func (m *MemoryStore) GetOrCreate(_ context.Context, userKey string, defaultCredits int) (*entity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userKey]
	if !ok {
		acc = m.create(userKey, defaultCredits)
	}
	out := *acc
	return &out, nil
}

func (m *MemoryStore) SetMembership(_ context.Context, userKey string, member bool, credits int, customerRef string) (*entity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userKey]
	if !ok {
		acc = m.create(userKey, credits)
	}
	acc.IsMember = member
	acc.Credits = credits
	if customerRef != "" {
		acc.BillingCustomerRef = customerRef
	}
	out := *acc
	return &out, nil
}

func (m *MemoryStore) SetCustomerRef(_ context.Context, userKey, customerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userKey]
	if !ok {
		return entity.ErrAccountNotFound
	}
	acc.BillingCustomerRef = customerRef
	return nil
}

func (m *MemoryStore) FindByCustomerRef(_ context.Context, customerRef string) (*entity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if customerRef != "" && acc.BillingCustomerRef == customerRef {
			out := *acc
			return &out, nil
		}
	}
	return nil, entity.ErrAccountNotFound
}

func (m *MemoryStore) create(userKey string, credits int) *entity.Account {
	acc := &entity.Account{
		UserKey:   userKey,
		Credits:   credits,
		CreatedAt: time.Now().UTC(),
	}
	m.accounts[userKey] = acc
	return acc
}

func (m *MemoryStore) SaveConversation(_ context.Context, conv entity.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.conversations[conv.Owner]
	if !ok {
		byName = make(map[string]entity.Conversation)
		m.conversations[conv.Owner] = byName
	}
	conv.Turns = append([]entity.Turn(nil), conv.Turns...)
	conv.UpdatedAt = time.Now().UTC()
	byName[conv.Name] = conv
	return nil
}

func (m *MemoryStore) LoadConversation(_ context.Context, owner, name string) (*entity.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[owner][name]
	if !ok {
		return nil, entity.ErrConversationNotFound
	}
	conv.Turns = append([]entity.Turn(nil), conv.Turns...)
	return &conv, nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, owner, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations[owner], name)
	return nil
}

func (m *MemoryStore) ListConversations(_ context.Context, owner string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.conversations[owner]))
	for name := range m.conversations[owner] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) SaveReport(_ context.Context, report entity.QuoteSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.Ticker] = report
	return nil
}

func (m *MemoryStore) LoadReport(_ context.Context, ticker string) (*entity.QuoteSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[ticker]
	if !ok {
		return nil, entity.ErrReportNotFound
	}
	return &report, nil
}
