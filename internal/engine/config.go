package engine

// Config holds simulation configuration. Rates are fractions, not
// percentages: a 0.15% commission is 0.0015.
type Config struct {
	Symbol         string
	InitialCapital float64
	BuyThreshold   float64
	SellThreshold  float64
	StopLossPct    float64
	TakeProfitPct  float64
	Commission     float64
	Slippage       float64
	// Window is the number of bars a predictor sees before the first
	// decision. Values below 2 are coerced up to 2.
	Window int
	// MaxTrades caps the trade history passed to predictors.
	MaxTrades int
}

// DefaultConfig returns the stock simulation settings: enter on a
// predicted rise of 0.2%, exit on a predicted fall of 0.2%, 5% stop
// loss, 10% take profit, frictionless execution.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		BuyThreshold:   0.002,
		SellThreshold:  -0.002,
		StopLossPct:    0.05,
		TakeProfitPct:  0.10,
		Commission:     0,
		Slippage:       0,
		Window:         20,
		MaxTrades:      10,
	}
}

// normalized returns a copy with degenerate values coerced into range.
func (c Config) normalized() Config {
	if c.Window <= 1 {
		c.Window = 2
	}
	return c
}
