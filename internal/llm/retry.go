package llm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"ragchat/internal/domain"
)

// Retrying bounds every call to the wrapped completer with a timeout and
// retries service errors up to MaxRetries times with capped backoff.
type Retrying struct {
	Next       domain.Completer
	Timeout    time.Duration
	MaxRetries int
	// Backoff returns the pause before retry n (0-based). Defaults to
	// 500ms doubling, capped at 8s.
	Backoff func(n int) time.Duration
}

func (r *Retrying) Complete(ctx context.Context, systemPrompt string, messages []domain.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := pause(ctx, r.backoff(attempt-1)); err != nil {
				return "", domain.E(domain.ErrService, "complete", err)
			}
		}
		text, err := r.once(ctx, systemPrompt, messages)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, domain.ErrService) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", r.MaxRetries+1).Msg("completion failed")
	}
	return "", lastErr
}

func (r *Retrying) once(ctx context.Context, systemPrompt string, messages []domain.Message) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	text, err := r.Next.Complete(ctx, systemPrompt, messages)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrService) {
		return "", domain.E(domain.ErrService, "complete", err)
	}
	return text, err
}

func (r *Retrying) backoff(n int) time.Duration {
	if r.Backoff != nil {
		return r.Backoff(n)
	}
	d := 500 * time.Millisecond << n
	if d > 8*time.Second || d <= 0 {
		d = 8 * time.Second
	}
	return d
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
