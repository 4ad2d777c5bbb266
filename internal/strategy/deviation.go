package strategy

import (
	"fmt"
	"time"

	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/market"
)

// Signal is the per-bar trade direction.
type Signal int

const (
	SignalSell Signal = -1
	SignalHold Signal = 0
	SignalBuy  Signal = 1
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// Point is the evaluated signal at one bar. MA is nil until the moving
// average window has filled; such bars always hold with reason
// "ma_not_ready".
type Point struct {
	Date               time.Time `json:"date"`
	Close              float64   `json:"close"`
	MA                 *float64  `json:"ma,omitempty"`
	Deviation          float64   `json:"deviation"`
	Signal             Signal    `json:"signal"`
	Reason             string    `json:"reason"`
	TranchePosition    float64   `json:"tranche_position"`
	CumulativePosition float64   `json:"cumulative_position"`
}

// Deviation implements the deviation-threshold tranche strategy: hold a
// baseline allocation, buy one tranche when price drops below the long
// moving average by more than the threshold, and sell one back when it
// rises above by the same margin. Tranche state never exceeds the band
// between baseline and the total cap, and never goes negative.
type Deviation struct {
	params Params
	logger *logger.Logger
}

func NewDeviation(params Params, log *logger.Logger) *Deviation {
	if log == nil {
		log = logger.NewNop()
	}
	return &Deviation{
		params: params,
		logger: log.WithComponent("strategy.deviation"),
	}
}

func (d *Deviation) Params() Params {
	return d.params
}

// Run evaluates the whole series in order and returns one point per bar.
// An empty series yields an empty slice.
func (d *Deviation) Run(series *market.Series) []Point {
	if series == nil || series.Empty() {
		d.logger.Warn("No bars to evaluate")
		return []Point{}
	}

	period := d.params.LongMAPeriod
	threshold := d.params.DeviationThreshold
	baseline := d.params.BaselinePosition

	tCapacity := d.params.TotalMaxPosition - baseline
	if tCapacity < 0 {
		tCapacity = 0
	}
	var tChunk float64
	if d.params.ChunkCount > 0 {
		tChunk = tCapacity / float64(d.params.ChunkCount)
	}

	if tCapacity <= 0 {
		d.logger.Warn("Tranche capacity is zero, only the baseline position will be held")
	}
	if d.params.ChunkCount <= 0 {
		d.logger.Warn("Chunk count is zero, tranche trading is disabled")
	}

	bars := series.Bars()
	points := make([]Point, 0, len(bars))

	// Rolling sum for the long MA; the window must be completely filled
	// before the average is considered ready.
	var windowSum float64
	var currentT float64

	for i, bar := range bars {
		windowSum += bar.Close
		if i >= period {
			windowSum -= bars[i-period].Close
		}

		pt := Point{
			Date:  bar.Date,
			Close: bar.Close,
		}

		if i+1 < period {
			pt.Signal = SignalHold
			pt.Reason = "ma_not_ready"
			pt.TranchePosition = currentT
			pt.CumulativePosition = baseline + currentT
			points = append(points, pt)
			continue
		}

		ma := windowSum / float64(period)
		pt.MA = &ma
		dev := (bar.Close - ma) / ma
		pt.Deviation = dev

		switch {
		case dev <= -threshold && currentT+tChunk <= tCapacity:
			currentT += tChunk
			pt.Signal = SignalBuy
			pt.Reason = fmt.Sprintf("buy_deviation_%.4f", dev)
			d.logger.WithFields(map[string]interface{}{
				"date":      bar.Date.Format("2006-01-02"),
				"deviation": dev,
				"tranche":   currentT,
			}).Debug("Tranche buy triggered")
		case dev >= threshold && currentT-tChunk >= 0:
			currentT -= tChunk
			pt.Signal = SignalSell
			pt.Reason = fmt.Sprintf("sell_deviation_%.4f", dev)
			d.logger.WithFields(map[string]interface{}{
				"date":      bar.Date.Format("2006-01-02"),
				"deviation": dev,
				"tranche":   currentT,
			}).Debug("Tranche sell triggered")
		default:
			pt.Signal = SignalHold
			pt.Reason = "hold"
		}

		pt.TranchePosition = currentT
		pt.CumulativePosition = baseline + currentT
		points = append(points, pt)
	}

	var buys, sells int
	for _, pt := range points {
		switch pt.Signal {
		case SignalBuy:
			buys++
		case SignalSell:
			sells++
		}
	}
	d.logger.WithFields(map[string]interface{}{
		"bars":  len(points),
		"buys":  buys,
		"sells": sells,
	}).Info("Signal evaluation completed")

	return points
}

// SuggestPositionSize converts a point into a target allocation fraction
// clamped to [0, 1].
func (d *Deviation) SuggestPositionSize(pt Point) float64 {
	size := pt.CumulativePosition
	if size < 0 {
		return 0
	}
	if size > 1 {
		return 1
	}
	return size
}
