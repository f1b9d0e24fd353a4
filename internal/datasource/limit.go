package datasource

import (
	"context"

	"golang.org/x/time/rate"

	"optpath/internal/market"
)

// RateLimited 在每次 Fetch 前等待令牌，避免触发远端配额。
type RateLimited struct {
	src     Source
	limiter *rate.Limiter
}

// WithRateLimit 按每分钟 perMin 次限流；perMin ≤ 0 时原样返回 src。
func WithRateLimit(src Source, perMin int) Source {
	if perMin <= 0 {
		return src
	}
	return &RateLimited{
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), 1),
	}
}

func (r *RateLimited) Name() string { return r.src.Name() }

func (r *RateLimited) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.src.Fetch(ctx, req)
}
