package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	chartPath      = "/v8/finance/chart/{symbol}"
	pricePlaces    = 4
)

// Config for the chart client
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration // also the wait after a 429
}

// Client Yahoo Finance chart API client
type Client struct {
	http *resty.Client
}

// NewClient creates a chart client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4 * cfg.RetryWait).
		AddRetryCondition(retryable)

	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{http: rc}
}

// retryable retries throttling and server errors
func retryable(r *resty.Response, _ error) bool {
	if r == nil {
		return false
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}

// chartResponse is the v8 chart payload; nil entries are missing bars
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
				GMTOffset int    `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Symbol maps an index-list ticker to Yahoo's spelling (BRK.B -> BRK-B)
func Symbol(ticker string) string {
	return strings.ReplaceAll(market.NormalizeTicker(ticker), ".", "-")
}

// =============================================================================
// History
// =============================================================================

// FetchHistory returns daily bars for ticker inside window, date descending.
// No data in the window is an empty slice.
func (c *Client) FetchHistory(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	period1 := int64(0)
	if !window.Start.IsZero() {
		period1 = market.Day(window.Start).Unix()
	}
	end := time.Now().UTC()
	if !window.End.IsZero() {
		end = window.End
	}
	period2 := market.Day(end).AddDate(0, 0, 1).Unix()

	chart, err := c.chart(ctx, ticker, map[string]string{
		"period1":  strconv.FormatInt(period1, 10),
		"period2":  strconv.FormatInt(period2, 10),
		"interval": "1d",
		"events":   "history",
	})
	if err != nil {
		return nil, err
	}

	bars := make([]market.PriceBar, 0)
	if len(chart.Chart.Result) == 0 {
		return bars, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return bars, nil
	}
	quote := result.Indicators.Quote[0]
	loc := time.FixedZone("exchange", result.Meta.GMTOffset)
	seen := make(map[time.Time]bool, len(result.Timestamp))
	stored := market.NormalizeTicker(ticker)

	for i, ts := range result.Timestamp {
		o, h, l, cl := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue // holiday or missing bar
		}

		day := market.Day(time.Unix(ts, 0).In(loc))
		if !window.Contains(day) || seen[day] {
			continue
		}
		seen[day] = true

		volume := 0.0
		if v := at(quote.Volume, i); v != nil {
			volume = *v
		}

		bars = append(bars, market.PriceBar{
			Ticker: stored,
			Date:   day,
			Open:   round(*o),
			High:   round(*h),
			Low:    round(*l),
			Close:  round(*cl),
			Volume: volume,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.After(bars[j].Date) })

	log.Debug().
		Str("ticker", stored).
		Str("window", window.String()).
		Int("bars", len(bars)).
		Msg("Fetched history from Yahoo")

	return bars, nil
}

// =============================================================================
// Names
// =============================================================================

// FetchName resolves the display name (long name, then short name)
func (c *Client) FetchName(ctx context.Context, ticker string) (string, error) {
	chart, err := c.chart(ctx, ticker, map[string]string{
		"range":    "1d",
		"interval": "1d",
	})
	if err != nil {
		return "", err
	}
	if len(chart.Chart.Result) == 0 {
		return "", fmt.Errorf("name %s: empty chart result: %w", ticker, market.ErrUpstream)
	}

	meta := chart.Chart.Result[0].Meta
	switch {
	case strings.TrimSpace(meta.LongName) != "":
		return strings.TrimSpace(meta.LongName), nil
	case strings.TrimSpace(meta.ShortName) != "":
		return strings.TrimSpace(meta.ShortName), nil
	}
	return "", fmt.Errorf("name %s: no name in metadata: %w", ticker, market.ErrUpstream)
}

func (c *Client) chart(ctx context.Context, ticker string, params map[string]string) (*chartResponse, error) {
	symbol := Symbol(ticker)

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(params).
		Get(chartPath)
	if err != nil {
		return nil, fmt.Errorf("chart %s: %w: %w", symbol, market.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, fmt.Errorf("chart %s: %w", symbol, market.ErrRateLimited)
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("chart %s: unknown symbol: %w", symbol, market.ErrUpstream)
	case resp.IsError():
		return nil, fmt.Errorf("chart %s: status %d: %w", symbol, resp.StatusCode(), market.ErrUpstream)
	}

	var chart chartResponse
	if err := json.Unmarshal(resp.Body(), &chart); err != nil {
		return nil, fmt.Errorf("chart %s: decode: %w: %w", symbol, market.ErrUpstream, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("chart %s: %s: %w", symbol, chart.Chart.Error.Description, market.ErrUpstream)
	}

	return &chart, nil
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(pricePlaces).Float64()
	return f
}
