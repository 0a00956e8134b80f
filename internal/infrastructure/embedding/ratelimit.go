package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// RateLimitedEmbedder holds provider calls to a token bucket. Waiting
// honours the request context, so a saturated provider surfaces as a
// timeout rather than a failure.
type RateLimitedEmbedder struct {
	next    ports.Embedder
	limiter *rate.Limiter
}

func NewRateLimitedEmbedder(next ports.Embedder, perSecond float64, burst int) *RateLimitedEmbedder {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

func (r *RateLimitedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", ctx.Err())
		}
		return nil, fmt.Errorf("embedding rate limit: %w", context.DeadlineExceeded)
	}
	return r.next.EmbedQuery(ctx, text)
}
