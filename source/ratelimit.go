package source

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/entitygraph/types"
)

// RateLimited 为任意 Source 的每次调用加令牌桶限流
type RateLimited struct {
	inner   Source
	limiter *rate.Limiter
}

// NewRateLimited wraps src with a limiter of rps calls per second and the given burst.
// rps <= 0 means unlimited.
func NewRateLimited(src Source, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{inner: src, limiter: rate.NewLimiter(limit, burst)}
}

// Unwrap returns the wrapped source.
func (r *RateLimited) Unwrap() Source { return r.inner }

func (r *RateLimited) wait(ctx context.Context, entity string) error {
	// burst >= 1，等待只会因 context 取消或截止时间不足而失败
	if err := r.limiter.Wait(ctx); err != nil {
		return types.NewError(types.ErrCancelled, "rate limiter wait cancelled").WithEntity(entity).WithCause(err)
	}
	return nil
}

func (r *RateLimited) Name() string { return r.inner.Name() }

func (r *RateLimited) Entities(ctx context.Context) ([]string, error) {
	if err := r.wait(ctx, ""); err != nil {
		return nil, err
	}
	return r.inner.Entities(ctx)
}

func (r *RateLimited) ListFields(ctx context.Context, entity string) ([]types.Field, error) {
	if err := r.wait(ctx, entity); err != nil {
		return nil, err
	}
	return r.inner.ListFields(ctx, entity)
}

func (r *RateLimited) PrimaryKey(ctx context.Context, entity string) (string, error) {
	if err := r.wait(ctx, entity); err != nil {
		return "", err
	}
	return r.inner.PrimaryKey(ctx, entity)
}

func (r *RateLimited) SampleValues(ctx context.Context, entity, field string, n int) ([]types.Value, error) {
	if err := r.wait(ctx, entity); err != nil {
		return nil, err
	}
	return r.inner.SampleValues(ctx, entity, field, n)
}

func (r *RateLimited) SamplePrimaryKeys(ctx context.Context, entity string, n int) ([]types.Value, error) {
	if err := r.wait(ctx, entity); err != nil {
		return nil, err
	}
	return r.inner.SamplePrimaryKeys(ctx, entity, n)
}

func (r *RateLimited) FetchByKey(ctx context.Context, entity, uid string) (Record, error) {
	if err := r.wait(ctx, entity); err != nil {
		return Record{}, err
	}
	return r.inner.FetchByKey(ctx, entity, uid)
}

func (r *RateLimited) FetchRelated(ctx context.Context, entity, localKey string, value types.Value, limit int) ([]Record, error) {
	if err := r.wait(ctx, entity); err != nil {
		return nil, err
	}
	return r.inner.FetchRelated(ctx, entity, localKey, value, limit)
}
