package predictor

import (
	"context"

	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/market"
)

// TrailingAverage predicts the next close as the mean of the last
// window closes. It is deterministic and never fails, which also makes
// it the fallback when a remote predictor has no history to send.
type TrailingAverage struct {
	name   string
	window int
	logger *logger.Logger
}

func NewTrailingAverage(name string, window int, log *logger.Logger) *TrailingAverage {
	if window <= 0 {
		window = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &TrailingAverage{
		name:   name,
		window: window,
		logger: log.WithComponent("predictor.trailing"),
	}
}

func (t *TrailingAverage) PredictNextPrice(_ context.Context, history *market.Series, _ Context) (float64, error) {
	if history == nil || history.Empty() {
		return 0.0, nil
	}
	closes := history.Closes()
	n := t.window
	if n > len(closes) {
		n = len(closes)
	}
	var sum float64
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n), nil
}
