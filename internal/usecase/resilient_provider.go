package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/domain/repository"
)

// ResilientProvider is the generation client the rest of the system talks
// to. It retries transient failures with a fixed delay, bounds every attempt
// with a timeout, and can hand over to a fallback provider once.
type ResilientProvider struct {
	primary  repository.AIProvider
	fallback repository.AIProvider // optional, tried once after primary is exhausted
	attempts int
	delay    time.Duration
	timeout  time.Duration // per attempt
	sleep    func(ctx context.Context, d time.Duration) error
}

type ResilientOption func(*ResilientProvider)

func WithFallback(p repository.AIProvider) ResilientOption {
	return func(r *ResilientProvider) { r.fallback = p }
}

func WithAttempts(n int) ResilientOption {
	return func(r *ResilientProvider) {
		if n > 0 {
			r.attempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) ResilientOption {
	return func(r *ResilientProvider) {
		if d >= 0 {
			r.delay = d
		}
	}
}

func WithAttemptTimeout(d time.Duration) ResilientOption {
	return func(r *ResilientProvider) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewResilientProvider(primary repository.AIProvider, opts ...ResilientOption) *ResilientProvider {
	r := &ResilientProvider{
		primary:  primary,
		attempts: 3,
		delay:    2 * time.Second,
		timeout:  60 * time.Second,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ResilientProvider) Generate(ctx context.Context, prompt string) (*entity.AIResponse, error) {
	resp, attempts, err := r.executeWithRetry(ctx, r.primary, prompt)
	if err == nil {
		setMeta(resp, "attempts", attempts)
		return resp, nil
	}
	if r.fallback == nil || !isRetryable(err) || ctx.Err() != nil {
		return nil, fmt.Errorf("generation failed after %d attempt(s): %w", attempts, err)
	}

	log.Printf("[RELIABILITY] Primary exhausted after %d attempt(s). Switching to FALLBACK. Error: %v", attempts, err)

	resp, fbErr := r.attempt(ctx, r.fallback, prompt)
	if fbErr != nil {
		return nil, fmt.Errorf("both primary and fallback failed: %w", errors.Join(err, fbErr))
	}
	setMeta(resp, "attempts", attempts)
	setMeta(resp, "fallback_used", true)
	return resp, nil
}

func (r *ResilientProvider) executeWithRetry(ctx context.Context, p repository.AIProvider, prompt string) (*entity.AIResponse, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		resp, err := r.attempt(ctx, p, prompt)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == r.attempts {
			return nil, attempt, lastErr
		}
		log.Printf("[RELIABILITY] Attempt %d/%d failed, retrying in %s: %v", attempt, r.attempts, r.delay, err)
		if err := r.sleep(ctx, r.delay); err != nil {
			return nil, attempt, err
		}
	}
	return nil, r.attempts, lastErr
}

func (r *ResilientProvider) attempt(ctx context.Context, p repository.AIProvider, prompt string) (*entity.AIResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := p.Generate(attemptCtx, prompt)
	if err != nil {
		// A timeout of this attempt alone is transient; the caller's own
		// cancellation is not.
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, entity.NewUpstreamError("generation", 0, err)
		}
		return nil, err
	}
	return resp, nil
}

// isRetryable trusts UpstreamError classification. Anything else is only
// retried when it is a deadline.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ue *entity.UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func setMeta(resp *entity.AIResponse, key string, v any) {
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata[key] = v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
