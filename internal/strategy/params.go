package strategy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params configures the deviation-threshold signal strategy. A baseline
// allocation is held permanently; the band between baseline and the total
// cap is traded in equal tranches when price deviates from the long
// moving average beyond the threshold.
type Params struct {
	Symbol             string  `yaml:"symbol" json:"symbol"`
	LongMAPeriod       int     `yaml:"long_ma_period" json:"long_ma_period"`
	DeviationThreshold float64 `yaml:"deviation_threshold" json:"deviation_threshold"`
	BaselinePosition   float64 `yaml:"baseline_position" json:"baseline_position"`
	TotalMaxPosition   float64 `yaml:"total_max_position" json:"total_max_position"`
	ChunkCount         int     `yaml:"chunk_count" json:"chunk_count"`
}

// DefaultParams returns the stock parameter set: 120-bar moving average,
// 8% deviation band, 60% baseline, full cap traded in five tranches.
func DefaultParams() Params {
	return Params{
		LongMAPeriod:       120,
		DeviationThreshold: 0.08,
		BaselinePosition:   0.6,
		TotalMaxPosition:   1.0,
		ChunkCount:         5,
	}
}

// ValidationError reports a parameter constraint violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the hard constraints. Degenerate-but-legal settings
// (zero tranche capacity, zero chunk count) pass validation: the signal
// pass handles them by never trading the tranche band.
func (p Params) Validate() error {
	if p.LongMAPeriod < 1 {
		return ValidationError{"long_ma_period", "must be >= 1"}
	}
	if p.DeviationThreshold < 0 {
		return ValidationError{"deviation_threshold", "must be >= 0"}
	}
	if p.BaselinePosition < 0 || p.BaselinePosition > 1 {
		return ValidationError{"baseline_position", "must be in [0, 1]"}
	}
	if p.TotalMaxPosition < 0 || p.TotalMaxPosition > 1 {
		return ValidationError{"total_max_position", "must be in [0, 1]"}
	}
	if p.ChunkCount < 0 {
		return ValidationError{"chunk_count", "must be >= 0"}
	}
	return nil
}

// LoadParams reads a YAML parameter file. Unknown fields are an error so
// a typoed key fails loudly instead of silently keeping a default.
func LoadParams(path string) (Params, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, nil, err
	}

	p := DefaultParams()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Params{}, data, fmt.Errorf("failed to parse strategy params: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Params{}, data, err
	}
	return p, data, nil
}

// Hash returns the SHA-256 of the canonical JSON form. Runs store it so
// results can be traced back to the exact parameter set that produced them.
func (p Params) Hash() (string, error) {
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
