package market

import (
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	data := `date,open,high,low,close,volume,symbol
2024-01-02,10.0,10.5,9.8,10.2,1000,ACME
2024-01-03,10.2,10.8,10.1,10.6,1200,ACME
`

	s, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if got := s.Symbol(); got != "ACME" {
		t.Errorf("Symbol = %q, want ACME", got)
	}

	first := s.Bar(0)
	if first.Open != 10.0 || first.High != 10.5 || first.Low != 9.8 || first.Close != 10.2 || first.Volume != 1000 {
		t.Errorf("unexpected first bar: %+v", first)
	}
}

func TestReadCSVMinimalColumns(t *testing.T) {
	data := `date,close
2024-01-02,10.2
`

	s, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}

	bar := s.Bar(0)
	// Missing OHLC defaults to the close, volume to 0.
	if bar.Open != 10.2 || bar.High != 10.2 || bar.Low != 10.2 {
		t.Errorf("OHLC defaults not applied: %+v", bar)
	}
	if bar.Volume != 0 {
		t.Errorf("Volume = %v, want 0", bar.Volume)
	}
}

func TestReadCSVHeaderOnly(t *testing.T) {
	s, err := ReadCSV(strings.NewReader("date,close\n"))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if !s.Empty() {
		t.Errorf("expected empty series, got %d bars", s.Len())
	}
}

func TestReadCSVEmptyInput(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if !s.Empty() {
		t.Error("expected empty series for empty input")
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing date column", "open,close\n1,2\n"},
		{"missing close column", "date,open\n2024-01-02,1\n"},
		{"bad date", "date,close\nnot-a-date,1\n"},
		{"bad close", "date,close\n2024-01-02,abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.data)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestReadCSVSortsRows(t *testing.T) {
	data := `date,close
2024-01-05,3
2024-01-02,1
2024-01-03,2
`

	s, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}

	for i, want := range []float64{1, 2, 3} {
		if got := s.Bar(i).Close; got != want {
			t.Errorf("bar %d close = %v, want %v", i, got, want)
		}
	}
}
