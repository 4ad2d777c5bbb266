package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// date formats accepted by the CSV loader, tried in order
var csvDateFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// LoadCSV reads an OHLCV series from a comma-separated file. The first row
// must be a header containing at least "date" and "close"; open, high, low,
// volume and symbol are optional. Missing OHLC fields default to the close,
// missing volume to 0. A file with a header and no data rows yields an
// empty series, not an error.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV parses an OHLCV series from a reader. See LoadCSV.
func ReadCSV(r io.Reader) (*Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return NewSeries(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	if _, ok := cols["date"]; !ok {
		return nil, fmt.Errorf("csv header missing required column %q", "date")
	}
	if _, ok := cols["close"]; !ok {
		return nil, fmt.Errorf("csv header missing required column %q", "close")
	}

	var bars []Bar
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line+1, err)
		}
		line++

		date, err := parseCSVDate(field(record, cols, "date"))
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", line, err)
		}

		closePrice, err := parseCSVFloat(field(record, cols, "close"))
		if err != nil {
			return nil, fmt.Errorf("csv row %d: close: %w", line, err)
		}

		bar := Bar{
			Date:   date,
			Open:   floatOrDefault(field(record, cols, "open"), closePrice),
			High:   floatOrDefault(field(record, cols, "high"), closePrice),
			Low:    floatOrDefault(field(record, cols, "low"), closePrice),
			Close:  closePrice,
			Volume: floatOrDefault(field(record, cols, "volume"), 0),
			Symbol: field(record, cols, "symbol"),
		}
		bars = append(bars, bar)
	}

	return NewSeries(bars), nil
}

func field(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseCSVDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range csvDateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func parseCSVFloat(value string) (float64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(value, 64)
}

func floatOrDefault(value string, fallback float64) float64 {
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}
