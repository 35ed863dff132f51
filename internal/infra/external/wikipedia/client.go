package wikipedia

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
)

const (
	// DefaultURL lists S&P 500 constituents in table#constituents
	DefaultURL     = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"
	defaultTimeout = 30 * time.Second
)

// Client fetches an index constituent table
type Client struct {
	http *resty.Client
	url  string
}

// NewClient creates a constituents client
func NewClient(url, userAgent string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rc := resty.New().SetTimeout(timeout)
	if userAgent != "" {
		rc.SetHeader("User-Agent", userAgent)
	}

	return &Client{http: rc, url: url}
}

// FetchSymbols returns unique constituent symbols in table order
func (c *Client) FetchSymbols(ctx context.Context) ([]string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("fetch constituents: %w: %w", market.ErrUpstream, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch constituents: status %d: %w", resp.StatusCode(), market.ErrUpstream)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w: %w", market.ErrUpstream, err)
	}

	symbols := ParseSymbols(doc)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("constituents table not found or empty: %w", market.ErrUpstream)
	}

	return symbols, nil
}

// ParseSymbols reads the first column of the constituents table.
// Falls back to the first wikitable when the id is missing.
func ParseSymbols(doc *goquery.Document) []string {
	table := doc.Find("table#constituents").First()
	if table.Length() == 0 {
		table = doc.Find("table.wikitable").First()
	}

	seen := make(map[string]bool)
	symbols := make([]string, 0)

	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		cell := row.Find("td").First()
		if cell.Length() == 0 {
			return // header row
		}

		symbol := market.NormalizeTicker(strings.ReplaceAll(cell.Text(), "\u00a0", ""))
		if symbol == "" || !market.ValidateTicker(symbol) || seen[symbol] {
			return
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	})

	return symbols
}
