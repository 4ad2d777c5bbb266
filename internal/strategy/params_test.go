package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParamsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParams(t *testing.T) {
	path := writeParamsFile(t, `
symbol: "005930"
long_ma_period: 60
deviation_threshold: 0.05
baseline_position: 0.5
total_max_position: 0.9
chunk_count: 4
`)

	p, raw, err := LoadParams(path)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, "005930", p.Symbol)
	assert.Equal(t, 60, p.LongMAPeriod)
	assert.Equal(t, 0.05, p.DeviationThreshold)
	assert.Equal(t, 0.5, p.BaselinePosition)
	assert.Equal(t, 0.9, p.TotalMaxPosition)
	assert.Equal(t, 4, p.ChunkCount)
}

func TestLoadParamsDefaultsApply(t *testing.T) {
	// A partial file keeps the defaults for everything it omits.
	path := writeParamsFile(t, `symbol: "TEST"`)

	p, _, err := LoadParams(path)
	require.NoError(t, err)

	want := DefaultParams()
	want.Symbol = "TEST"
	assert.Equal(t, want, p)
}

func TestLoadParamsUnknownField(t *testing.T) {
	path := writeParamsFile(t, `
long_ma_period: 60
deviaton_threshold: 0.05
`)

	_, _, err := LoadParams(path)
	assert.Error(t, err, "typoed field should be rejected")
}

func TestLoadParamsMissingFile(t *testing.T) {
	_, _, err := LoadParams(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"defaults are valid", func(p *Params) {}, false},
		{"zero ma period", func(p *Params) { p.LongMAPeriod = 0 }, true},
		{"negative threshold", func(p *Params) { p.DeviationThreshold = -0.01 }, true},
		{"baseline above one", func(p *Params) { p.BaselinePosition = 1.5 }, true},
		{"negative baseline", func(p *Params) { p.BaselinePosition = -0.1 }, true},
		{"cap above one", func(p *Params) { p.TotalMaxPosition = 1.01 }, true},
		{"negative chunk count", func(p *Params) { p.ChunkCount = -1 }, true},
		{"zero chunk count is legal", func(p *Params) { p.ChunkCount = 0 }, false},
		{"baseline above cap is legal", func(p *Params) { p.BaselinePosition = 0.9; p.TotalMaxPosition = 0.5 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParamsHashDeterministic(t *testing.T) {
	p := DefaultParams()
	h1, err := p.Hash()
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, _ := p.Hash()
	assert.Equal(t, h1, h2, "same params must hash identically")

	q := p
	q.ChunkCount = 6
	h3, _ := q.Hash()
	assert.NotEqual(t, h1, h3, "different params must hash differently")
}
