package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ACodePorter/marketreplay/pkg/httputil"
	"github.com/ACodePorter/marketreplay/pkg/logger"
)

// ChartClient fetches daily bars from a remote chart endpoint that serves
// rows of [date, open, high, low, close, volume]. Some deployments return
// single-quoted pseudo-JSON, so parsing falls back to a row regex.
type ChartClient struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
}

// NewChartClient creates a chart client against baseURL.
func NewChartClient(baseURL string, httpClient *httputil.Client, log *logger.Logger) *ChartClient {
	return &ChartClient{
		httpClient: httpClient,
		logger:     log.WithComponent("market.chart"),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// FetchBars retrieves daily bars for a symbol in [from, to].
func (c *ChartClient) FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("chart base URL is not configured")
	}

	fullURL := fmt.Sprintf("%s/chart?symbol=%s&start=%s&end=%s&timeframe=day",
		c.baseURL,
		url.QueryEscape(symbol),
		from.Format("20060102"),
		to.Format("20060102"),
	)

	resp, err := c.httpClient.Get(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("chart request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chart response: %w", err)
	}

	bars, err := c.parseChartResponse(string(body), symbol)
	if err != nil {
		return nil, fmt.Errorf("parse chart response: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"count":  len(bars),
	}).Debug("Fetched bars")
	return bars, nil
}

// parseChartResponse parses the endpoint body, JSON first, regex fallback.
func (c *ChartClient) parseChartResponse(body, symbol string) ([]Bar, error) {
	body = strings.TrimSpace(body)
	body = strings.ReplaceAll(body, "'", "\"")

	var rawRows [][]interface{}
	if err := json.Unmarshal([]byte(body), &rawRows); err == nil {
		return c.parseChartJSON(rawRows, symbol)
	}

	return c.parseChartRegex(body, symbol)
}

func (c *ChartClient) parseChartJSON(rawRows [][]interface{}, symbol string) ([]Bar, error) {
	var bars []Bar
	for i, row := range rawRows {
		if i == 0 || len(row) < 6 {
			continue // skip header
		}

		dateStr, ok := row[0].(string)
		if !ok {
			continue
		}
		date, err := parseChartDate(strings.Trim(dateStr, "\""))
		if err != nil {
			continue
		}

		bars = append(bars, Bar{
			Symbol: symbol,
			Date:   date,
			Open:   toFloat(row[1]),
			High:   toFloat(row[2]),
			Low:    toFloat(row[3]),
			Close:  toFloat(row[4]),
			Volume: toFloat(row[5]),
		})
	}
	return bars, nil
}

var chartRowRe = regexp.MustCompile(`\["(\d{8})",\s*([\d.]+),\s*([\d.]+),\s*([\d.]+),\s*([\d.]+),\s*([\d.]+)\]`)

func (c *ChartClient) parseChartRegex(body, symbol string) ([]Bar, error) {
	matches := chartRowRe.FindAllStringSubmatch(body, -1)

	var bars []Bar
	for _, match := range matches {
		if len(match) < 7 {
			continue
		}

		date, err := parseChartDate(match[1])
		if err != nil {
			continue
		}

		open, _ := strconv.ParseFloat(match[2], 64)
		high, _ := strconv.ParseFloat(match[3], 64)
		low, _ := strconv.ParseFloat(match[4], 64)
		closePrice, _ := strconv.ParseFloat(match[5], 64)
		volume, _ := strconv.ParseFloat(match[6], 64)

		bars = append(bars, Bar{
			Symbol: symbol,
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no parseable rows in response")
	}
	return bars, nil
}

func parseChartDate(value string) (time.Time, error) {
	if len(value) == 8 {
		value = value[:4] + "-" + value[4:6] + "-" + value[6:8]
	}
	return time.Parse("2006-01-02", value)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(strings.Trim(n, "\""), 64)
		return f
	default:
		return 0
	}
}
