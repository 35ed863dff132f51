package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/3-stardust-7/JarNox/internal/api/middleware"
	"github.com/3-stardust-7/JarNox/internal/api/response"
	"github.com/3-stardust-7/JarNox/internal/domain/market"
	"github.com/3-stardust-7/JarNox/internal/service/marketdata"
)

// MarketService is the cache policy as seen by the HTTP layer
type MarketService interface {
	GetCompanies(ctx context.Context) (*marketdata.CompaniesResult, error)
	Populate(ctx context.Context) (*marketdata.PopulateResult, error)
	GetHistorical(ctx context.Context, q marketdata.HistoricalQuery) (*marketdata.HistoricalResult, error)
	DBStatus(ctx context.Context) (*market.DBStatus, error)
}

// MarketHandler serves companies and historical prices
type MarketHandler struct {
	service MarketService
}

// NewMarketHandler creates a new market handler
func NewMarketHandler(service MarketService) *MarketHandler {
	return &MarketHandler{service: service}
}

// BarResponse one daily bar on the wire
type BarResponse struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HistoricalResponse body of GET /historical/:ticker
type HistoricalResponse struct {
	Ticker         string        `json:"ticker"`
	HistoricalData []BarResponse `json:"historical_data"`
}

// PopulateResponse body of POST /populate-companies
type PopulateResponse struct {
	Message  string `json:"message"`
	Count    int64  `json:"count"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
}

// DBStatusResponse body of GET /db-status
type DBStatusResponse struct {
	Status string `json:"status"`
	*market.DBStatus
}

// GetCompanies GET /companies
func (h *MarketHandler) GetCompanies(c *gin.Context) {
	result, err := h.service.GetCompanies(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	companies := result.Companies
	if companies == nil {
		companies = []market.Company{}
	}

	c.Header(middleware.DataSourceHeader, string(result.Source))
	c.JSON(http.StatusOK, companies)
}

// PopulateCompanies POST /populate-companies
func (h *MarketHandler) PopulateCompanies(c *gin.Context) {
	result, err := h.service.Populate(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, market.ErrUpstream):
			response.ExternalAPIError(c, "company universe", err)
		case errors.Is(err, market.ErrStore):
			response.DatabaseError(c, err)
		default:
			response.InternalError(c, "Populate failed", err)
		}
		return
	}

	log.Info().
		Str("request_id", middleware.GetRequestID(c)).
		Int("fetched", result.Fetched).
		Int("inserted", result.Inserted).
		Int64("total", result.Total).
		Msg("Companies populated")

	c.JSON(http.StatusOK, PopulateResponse{
		Message:  fmt.Sprintf("Companies populated: %d", result.Total),
		Count:    result.Total,
		Fetched:  result.Fetched,
		Inserted: result.Inserted,
	})
}

// GetHistorical GET /historical/:ticker?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *MarketHandler) GetHistorical(c *gin.Context) {
	ticker := market.NormalizeTicker(c.Param("ticker"))
	if !market.ValidateTicker(ticker) {
		response.BadRequest(c, fmt.Sprintf("invalid ticker %q", c.Param("ticker")))
		return
	}

	start, ok := dateQuery(c, "start_date")
	if !ok {
		return
	}
	end, ok := dateQuery(c, "end_date")
	if !ok {
		return
	}

	result, err := h.service.GetHistorical(c.Request.Context(), marketdata.HistoricalQuery{
		Ticker: ticker,
		Start:  start,
		End:    end,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if result.Source != marketdata.SourceCache {
		log.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("ticker", ticker).
			Str("source", string(result.Source)).
			Int("bars", len(result.Bars)).
			Msg("Historical served outside cache")
	}

	bars := make([]BarResponse, 0, len(result.Bars))
	for _, b := range result.Bars {
		bars = append(bars, BarResponse{
			Date:   b.Date.Format(market.DateLayout),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	c.Header(middleware.DataSourceHeader, string(result.Source))
	c.JSON(http.StatusOK, HistoricalResponse{
		Ticker:         result.Ticker,
		HistoricalData: bars,
	})
}

// DBStatus GET /db-status
func (h *MarketHandler) DBStatus(c *gin.Context) {
	status, err := h.service.DBStatus(c.Request.Context())
	if err != nil {
		response.DatabaseError(c, err)
		return
	}
	if status.SampleTickers == nil {
		status.SampleTickers = []string{}
	}

	c.JSON(http.StatusOK, DBStatusResponse{Status: "connected", DBStatus: status})
}

// fail maps policy errors to HTTP; anything past the fallback chain is a 500
func (h *MarketHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, marketdata.ErrInvalidRange):
		response.BadRequest(c, err.Error())
	case errors.Is(err, market.ErrUnavailable):
		response.InternalError(c, "Data temporarily unavailable", err)
	default:
		response.InternalError(c, "An unexpected error occurred", err)
	}
}

func dateQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	d, err := market.ParseDate(raw)
	if err != nil {
		response.BadRequest(c, fmt.Sprintf("%s must be YYYY-MM-DD", name))
		return time.Time{}, false
	}
	return d, true
}
