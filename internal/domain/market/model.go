package market

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of a calendar day
const DateLayout = "2006-01-02"

// Company represents a tradable company in the universe
// Maps to companies table
type Company struct {
	ID     int64  `json:"-"`
	Ticker string `json:"ticker"` // exchange symbol, unique
	Name   string `json:"name"`
}

// PriceBar is one daily OHLCV record
// Maps to historical_prices table
type PriceBar struct {
	Ticker string    `json:"-"`
	Date   time.Time `json:"date"` // calendar day, UTC midnight
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks bar invariants before it is written
func (b PriceBar) Validate() error {
	if b.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidBar)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s has non-finite or negative value", ErrInvalidBar, b.Date.Format(DateLayout))
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: %s high below low", ErrInvalidBar, b.Date.Format(DateLayout))
	}
	return nil
}

// DateRange is an inclusive calendar-day window.
// A zero Start or End leaves that side open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether neither bound is set
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether day falls inside the window
func (r DateRange) Contains(day time.Time) bool {
	day = Day(day)
	if !r.Start.IsZero() && day.Before(Day(r.Start)) {
		return false
	}
	if !r.End.IsZero() && day.After(Day(r.End)) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(DateLayout)
	}
	return format(r.Start) + ".." + format(r.End)
}

// DBStatus is the diagnostic view of the store
type DBStatus struct {
	Companies     int64    `json:"companies"`
	PriceBars     int64    `json:"historical_records"`
	SampleTickers []string `json:"sample_tickers"`
}

// Day truncates t to its calendar day at UTC midnight
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a calendar day
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// DaysBetween returns the whole calendar days from a to b
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// NormalizeTicker trims and upper-cases a ticker
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// ValidateTicker checks the ticker format (letters, digits, . - ^ =)
func ValidateTicker(ticker string) bool {
	if len(ticker) == 0 || len(ticker) > 15 {
		return false
	}
	for i, c := range ticker {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case i > 0 && (c == '.' || c == '-' || c == '^' || c == '='):
		case i == 0 && c == '^':
		default:
			return false
		}
	}
	return true
}
