package market

import (
	"sort"
	"time"
)

// Bar is a single OHLCV row at a timestamp.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Symbol string    `json:"symbol,omitempty"`
}

// Series is an ordered, time-indexed sequence of bars. It is constructed
// once per run and read-only thereafter; the simulation engine never
// mutates it.
type Series struct {
	bars []Bar
}

// NewSeries builds a series from bars, sorted by date ascending. The input
// slice is copied so later mutation by the caller cannot reach the series.
func NewSeries(bars []Bar) *Series {
	copied := make([]Bar, len(bars))
	copy(copied, bars)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].Date.Before(copied[j].Date)
	})
	return &Series{bars: copied}
}

// Len returns the number of bars.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.bars)
}

// Empty reports whether the series has no bars.
func (s *Series) Empty() bool {
	return s.Len() == 0
}

// Bar returns the bar at index i. Panics on out-of-range access, which is a
// programming defect, not a data condition.
func (s *Series) Bar(i int) Bar {
	return s.bars[i]
}

// Bars returns the underlying bars. Callers must treat the slice as
// read-only.
func (s *Series) Bars() []Bar {
	if s == nil {
		return nil
	}
	return s.bars
}

// Symbol returns the first non-empty symbol in the series, or "".
func (s *Series) Symbol() string {
	for _, b := range s.Bars() {
		if b.Symbol != "" {
			return b.Symbol
		}
	}
	return ""
}

// Head returns a view over the first n bars. The backing array is shared;
// this is safe because series are immutable. n is clamped to [0, Len].
func (s *Series) Head(n int) *Series {
	if n < 0 {
		n = 0
	}
	if n > s.Len() {
		n = s.Len()
	}
	return &Series{bars: s.bars[:n]}
}

// Tail returns the last min(n, Len) bars.
func (s *Series) Tail(n int) []Bar {
	if n <= 0 || s.Len() == 0 {
		return nil
	}
	if n > s.Len() {
		n = s.Len()
	}
	return s.bars[s.Len()-n:]
}

// Closes returns all close prices in order.
func (s *Series) Closes() []float64 {
	closes := make([]float64, s.Len())
	for i, b := range s.Bars() {
		closes[i] = b.Close
	}
	return closes
}

// LastClose returns the close of the final bar, or 0 for an empty series.
func (s *Series) LastClose() float64 {
	if s.Len() == 0 {
		return 0
	}
	return s.bars[s.Len()-1].Close
}
