package usecase

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"fineas-core/internal/domain/entity"
)

const testDim = 64

// bagEmbedder hashes lower-cased words into a fixed-size count vector, so
// texts sharing words land close together.
type bagEmbedder struct {
	dim    int
	calls  atomic.Int32
	failOn int32 // 1-based call number that fails; 0 never fails
	err    error
}

func newBagEmbedder() *bagEmbedder { return &bagEmbedder{dim: testDim} }

func (e *bagEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	n := e.calls.Add(1)
	if e.failOn > 0 && n >= e.failOn {
		return nil, e.err
	}
	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)]++
	}
	return vec, nil
}

// echoProvider answers with the prompt it was given.
type echoProvider struct {
	calls atomic.Int32
}

func (p *echoProvider) Generate(_ context.Context, prompt string) (*entity.AIResponse, error) {
	p.calls.Add(1)
	return &entity.AIResponse{Content: prompt, Model: "echo"}, nil
}

// scriptedProvider returns the queued errors in order, then succeeds.
type scriptedProvider struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	answer string
}

func (p *scriptedProvider) Generate(_ context.Context, _ string) (*entity.AIResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	return &entity.AIResponse{Content: p.answer}, nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type staticAnnotator struct {
	text string
	err  error
}

func (a staticAnnotator) Annotate(context.Context, string) (string, error) {
	return a.text, a.err
}

type staticDates struct {
	rng *entity.DateRange
	err error
}

func (d staticDates) ExtractDateRange(context.Context, string) (*entity.DateRange, error) {
	return d.rng, d.err
}

// fixedIndex returns canned hits and records the date filters it was given.
type fixedIndex struct {
	hits    []entity.ScoredChunk
	filters []*entity.DateRange
}

func (f *fixedIndex) Upsert(context.Context, []entity.DocumentChunk) error { return nil }

func (f *fixedIndex) Query(_ context.Context, _ []float32, topK int, dates *entity.DateRange) ([]entity.ScoredChunk, error) {
	f.filters = append(f.filters, dates)
	if dates != nil {
		return nil, nil
	}
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fixedIndex) DeleteSuperseded(context.Context, string, string, string, int64) error {
	return nil
}

// sigVerifier accepts a payload only with the signature "sig:" + payload.
type sigVerifier struct {
	event entity.BillingEvent
}

func (v sigVerifier) VerifyEvent(payload []byte, signature string) (*entity.BillingEvent, error) {
	if signature != "sig:"+string(payload) {
		return nil, entity.ErrSignatureInvalid
	}
	ev := v.event
	return &ev, nil
}

type fakeGateway struct {
	customers int
	canceled  []string
	sessions  []string
}

func (g *fakeGateway) CreateCustomer(_ context.Context, userKey string) (string, error) {
	g.customers++
	return "cus_" + userKey, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, customerRef, userKey string) (string, string, error) {
	g.sessions = append(g.sessions, customerRef)
	return "cs_1", "https://checkout.example/cs_1", nil
}

func (g *fakeGateway) CancelSubscriptions(_ context.Context, customerRef string) (int, error) {
	g.canceled = append(g.canceled, customerRef)
	return 1, nil
}
