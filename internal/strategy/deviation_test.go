package strategy

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ACodePorter/marketreplay/internal/market"
)

func seriesFromCloses(closes []float64) *market.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Symbol: "TEST",
		}
	}
	return market.NewSeries(bars)
}

func testParams() Params {
	return Params{
		LongMAPeriod:       3,
		DeviationThreshold: 0.05,
		BaselinePosition:   0.6,
		TotalMaxPosition:   1.0,
		ChunkCount:         4,
	}
}

func TestDeviationWarmup(t *testing.T) {
	d := NewDeviation(testParams(), nil)
	points := d.Run(seriesFromCloses([]float64{100, 100, 100, 100}))

	if len(points) != 4 {
		t.Fatalf("got %d points, want 4", len(points))
	}
	for i := 0; i < 2; i++ {
		pt := points[i]
		if pt.MA != nil {
			t.Errorf("point %d: MA = %v, want nil during warmup", i, *pt.MA)
		}
		if pt.Signal != SignalHold || pt.Reason != "ma_not_ready" {
			t.Errorf("point %d: signal=%v reason=%q, want hold/ma_not_ready", i, pt.Signal, pt.Reason)
		}
		if pt.CumulativePosition != 0.6 {
			t.Errorf("point %d: cumulative = %v, want baseline 0.6", i, pt.CumulativePosition)
		}
	}
	// Third bar fills the window.
	if points[2].MA == nil || *points[2].MA != 100 {
		t.Errorf("point 2: MA = %v, want 100", points[2].MA)
	}
	if points[2].Reason != "hold" {
		t.Errorf("point 2: reason = %q, want hold", points[2].Reason)
	}
}

func TestDeviationBuySellCycle(t *testing.T) {
	// MA period 3. After warmup, drop far below the average to trigger a
	// tranche buy, then spike far above it to trigger a tranche sell.
	closes := []float64{100, 100, 100, 80, 150}
	d := NewDeviation(testParams(), nil)
	points := d.Run(seriesFromCloses(closes))

	buy := points[3]
	if buy.Signal != SignalBuy {
		t.Fatalf("bar 3: signal = %v, want buy", buy.Signal)
	}
	// dev = (80 - 93.333)/93.333 ≈ -0.1429
	if !strings.HasPrefix(buy.Reason, "buy_deviation_-0.14") {
		t.Errorf("bar 3: reason = %q, want buy_deviation_-0.14xx", buy.Reason)
	}
	if math.Abs(buy.TranchePosition-0.1) > 1e-9 {
		t.Errorf("bar 3: tranche = %v, want one chunk 0.1", buy.TranchePosition)
	}
	if math.Abs(buy.CumulativePosition-0.7) > 1e-9 {
		t.Errorf("bar 3: cumulative = %v, want 0.7", buy.CumulativePosition)
	}

	sell := points[4]
	if sell.Signal != SignalSell {
		t.Fatalf("bar 4: signal = %v, want sell", sell.Signal)
	}
	if !strings.HasPrefix(sell.Reason, "sell_deviation_") {
		t.Errorf("bar 4: reason = %q, want sell_deviation_*", sell.Reason)
	}
	if math.Abs(sell.TranchePosition) > 1e-9 {
		t.Errorf("bar 4: tranche = %v, want 0 after selling the chunk back", sell.TranchePosition)
	}
}

func TestDeviationCapacityBounds(t *testing.T) {
	// Sustained crash: a geometric decline keeps the close well below the
	// rolling average, buying a tranche every bar until the band is full.
	closes := []float64{100, 100, 100}
	c := 100.0
	for i := 0; i < 8; i++ {
		c *= 0.8
		closes = append(closes, c)
	}
	d := NewDeviation(testParams(), nil)
	points := d.Run(seriesFromCloses(closes))

	tCapacity := 0.4
	for i, pt := range points {
		if pt.TranchePosition < -1e-9 || pt.TranchePosition > tCapacity+1e-9 {
			t.Errorf("point %d: tranche %v outside [0, %v]", i, pt.TranchePosition, tCapacity)
		}
		if math.Abs(pt.CumulativePosition-(0.6+pt.TranchePosition)) > 1e-9 {
			t.Errorf("point %d: cumulative %v != baseline + tranche", i, pt.CumulativePosition)
		}
	}

	last := points[len(points)-1]
	if math.Abs(last.TranchePosition-tCapacity) > 1e-9 {
		t.Errorf("final tranche = %v, want full capacity %v", last.TranchePosition, tCapacity)
	}
	if last.Signal != SignalHold || last.Reason != "hold" {
		t.Errorf("final bar: signal=%v reason=%q, want hold once capacity is full", last.Signal, last.Reason)
	}
}

func TestDeviationSellNeverBelowZero(t *testing.T) {
	// Sustained rally with no prior buys: sell condition is met but the
	// tranche position stays at zero.
	closes := []float64{100, 100, 100, 200, 300, 400}
	d := NewDeviation(testParams(), nil)
	points := d.Run(seriesFromCloses(closes))

	for i, pt := range points {
		if pt.Signal == SignalSell {
			t.Errorf("point %d: sell signal with empty tranche", i)
		}
		if pt.TranchePosition < 0 {
			t.Errorf("point %d: tranche %v below zero", i, pt.TranchePosition)
		}
	}
}

func TestDeviationZeroChunkCount(t *testing.T) {
	params := testParams()
	params.ChunkCount = 0
	d := NewDeviation(params, nil)
	points := d.Run(seriesFromCloses([]float64{100, 100, 100, 50, 200}))

	for i, pt := range points {
		if pt.TranchePosition != 0 {
			t.Errorf("point %d: tranche = %v, want 0 with chunk_count=0", i, pt.TranchePosition)
		}
	}
	// Zero chunks means zero-size trades: the deviation still triggers,
	// moving the tranche by zero.
	if points[3].Signal != SignalBuy {
		t.Errorf("bar 3: signal = %v, want zero-size buy trigger", points[3].Signal)
	}
}

func TestDeviationNonDividingChunks(t *testing.T) {
	// capacity 0.4 over 3 chunks: chunk = 0.1333..., floating point must
	// still allow exactly 3 buys and never a 4th.
	params := testParams()
	params.ChunkCount = 3
	closes := []float64{100, 100, 100}
	c := 100.0
	for i := 0; i < 6; i++ {
		c *= 0.8
		closes = append(closes, c)
	}
	d := NewDeviation(params, nil)
	points := d.Run(seriesFromCloses(closes))

	var buys int
	for _, pt := range points {
		if pt.Signal == SignalBuy {
			buys++
		}
		if pt.TranchePosition > 0.4+1e-9 {
			t.Errorf("tranche %v exceeds capacity 0.4", pt.TranchePosition)
		}
	}
	if buys > 3 {
		t.Errorf("got %d buys, want at most 3", buys)
	}
}

func TestDeviationEmptySeries(t *testing.T) {
	d := NewDeviation(testParams(), nil)
	if points := d.Run(market.NewSeries(nil)); len(points) != 0 {
		t.Errorf("got %d points for empty series, want 0", len(points))
	}
	if points := d.Run(nil); len(points) != 0 {
		t.Errorf("got %d points for nil series, want 0", len(points))
	}
}

func TestSuggestPositionSize(t *testing.T) {
	d := NewDeviation(testParams(), nil)

	tests := []struct {
		cumulative float64
		want       float64
	}{
		{0.7, 0.7},
		{-0.1, 0},
		{1.3, 1},
		{0, 0},
		{1, 1},
	}
	for _, tt := range tests {
		got := d.SuggestPositionSize(Point{CumulativePosition: tt.cumulative})
		if got != tt.want {
			t.Errorf("SuggestPositionSize(%v) = %v, want %v", tt.cumulative, got, tt.want)
		}
	}
}
