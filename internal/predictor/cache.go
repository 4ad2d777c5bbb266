package predictor

import (
	"context"

	"github.com/ACodePorter/marketreplay/pkg/logger"
	"github.com/ACodePorter/marketreplay/pkg/redis"

	"github.com/ACodePorter/marketreplay/internal/market"
)

// Cached wraps a predictor with a redis-backed prediction cache keyed by
// (model, symbol, bar timestamp). Cache failures degrade to the inner
// predictor; they never fail a run.
type Cached struct {
	inner  Predictor
	cache  *redis.Cache
	model  string
	logger *logger.Logger
}

func NewCached(inner Predictor, cache *redis.Cache, model string, log *logger.Logger) *Cached {
	if log == nil {
		log = logger.NewNop()
	}
	return &Cached{
		inner:  inner,
		cache:  cache,
		model:  model,
		logger: log.WithComponent("predictor.cache"),
	}
}

func (c *Cached) PredictNextPrice(ctx context.Context, history *market.Series, pctx Context) (float64, error) {
	key := redis.PredictionKey(c.model, pctx.Symbol, pctx.Timestamp)

	var cached float64
	hit, err := c.cache.Get(ctx, key, &cached)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Prediction cache read failed")
	} else if hit {
		return cached, nil
	}

	value, err := c.inner.PredictNextPrice(ctx, history, pctx)
	if err != nil {
		return 0, err
	}

	if err := c.cache.Set(ctx, key, value, redis.TTLDaily); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Prediction cache write failed")
	}
	return value, nil
}
