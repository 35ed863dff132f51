package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3-stardust-7/JarNox/internal/api/middleware"
	"github.com/3-stardust-7/JarNox/internal/domain/market"
	"github.com/3-stardust-7/JarNox/internal/infra/database"
	"github.com/3-stardust-7/JarNox/internal/service/marketdata"
)

type fakeService struct {
	companies  *marketdata.CompaniesResult
	populate   *marketdata.PopulateResult
	historical *marketdata.HistoricalResult
	status     *market.DBStatus
	err        error

	lastQuery marketdata.HistoricalQuery
}

func (f *fakeService) GetCompanies(ctx context.Context) (*marketdata.CompaniesResult, error) {
	return f.companies, f.err
}

func (f *fakeService) Populate(ctx context.Context) (*marketdata.PopulateResult, error) {
	return f.populate, f.err
}

func (f *fakeService) GetHistorical(ctx context.Context, q marketdata.HistoricalQuery) (*marketdata.HistoricalResult, error) {
	f.lastQuery = q
	return f.historical, f.err
}

func (f *fakeService) DBStatus(ctx context.Context) (*market.DBStatus, error) {
	return f.status, f.err
}

type fakeHealth struct {
	status *database.HealthStatus
}

func (f fakeHealth) Health(ctx context.Context) *database.HealthStatus {
	return f.status
}

func newEngine(svc MarketService, store HealthReporter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(middleware.RequestID())

	mh := NewMarketHandler(svc)
	hh := NewHealthHandler(store, "test")
	engine.GET("/ping", hh.Ping)
	engine.GET("/health/ready", hh.Ready)
	engine.GET("/api/health/detailed", hh.Detailed)
	engine.GET("/companies", mh.GetCompanies)
	engine.POST("/populate-companies", mh.PopulateCompanies)
	engine.GET("/historical/:ticker", mh.GetHistorical)
	engine.GET("/db-status", mh.DBStatus)
	return engine
}

func serve(engine *gin.Engine, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error.RequestID)
	return body.Error.Code
}

func TestGetCompanies(t *testing.T) {
	svc := &fakeService{companies: &marketdata.CompaniesResult{
		Companies: []market.Company{{ID: 1, Ticker: "AAPL", Name: "Apple Inc."}},
		Source:    marketdata.SourceCache,
	}}

	rec := serve(newEngine(svc, nil), http.MethodGet, "/companies")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", rec.Header().Get(middleware.DataSourceHeader))
	assert.JSONEq(t, `[{"ticker":"AAPL","name":"Apple Inc."}]`, rec.Body.String())
}

func TestGetCompanies_EmptyIsArray(t *testing.T) {
	svc := &fakeService{companies: &marketdata.CompaniesResult{Source: marketdata.SourceRefreshed}}

	rec := serve(newEngine(svc, nil), http.MethodGet, "/companies")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetCompanies_Unavailable(t *testing.T) {
	svc := &fakeService{err: market.UnavailableError("companies", market.ErrUpstream)}

	rec := serve(newEngine(svc, nil), http.MethodGet, "/companies")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", errorCode(t, rec))
}

func TestPopulateCompanies(t *testing.T) {
	svc := &fakeService{populate: &marketdata.PopulateResult{Fetched: 10, Inserted: 4, Total: 10}}

	rec := serve(newEngine(svc, nil), http.MethodPost, "/populate-companies")

	require.Equal(t, http.StatusOK, rec.Code)
	var body PopulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Companies populated: 10", body.Message)
	assert.Equal(t, int64(10), body.Count)
	assert.Equal(t, 4, body.Inserted)
}

func TestPopulateCompanies_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"upstream", fmt.Errorf("fetch: %w", market.ErrUpstream), http.StatusBadGateway, "EXTERNAL_API_ERROR"},
		{"store", fmt.Errorf("upsert: %w", market.ErrStore), http.StatusInternalServerError, "DATABASE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newEngine(&fakeService{err: tt.err}, nil), http.MethodPost, "/populate-companies")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestGetHistorical(t *testing.T) {
	svc := &fakeService{historical: &marketdata.HistoricalResult{
		Ticker: "AAPL",
		Source: marketdata.SourceRefreshed,
		Bars: []market.PriceBar{
			{Date: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), Open: 187.04, High: 187.1, Low: 184.35, Close: 184.4, Volume: 55467800},
			{Date: time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC), Open: 190.94, High: 191.8, Low: 187.47, Close: 188.04, Volume: 55859400},
		},
	}}

	rec := serve(newEngine(svc, nil), http.MethodGet, "/historical/aapl?start_date=2024-01-01&end_date=2024-01-31")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refreshed", rec.Header().Get(middleware.DataSourceHeader))
	assert.Equal(t, "AAPL", svc.lastQuery.Ticker)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), svc.lastQuery.Start)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), svc.lastQuery.End)

	var body HistoricalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AAPL", body.Ticker)
	require.Len(t, body.HistoricalData, 2)
	assert.Equal(t, "2024-01-31", body.HistoricalData[0].Date)
	assert.Equal(t, 184.4, body.HistoricalData[0].Close)
}

func TestGetHistorical_NoDates(t *testing.T) {
	svc := &fakeService{historical: &marketdata.HistoricalResult{Ticker: "MSFT", Source: marketdata.SourceCache}}

	rec := serve(newEngine(svc, nil), http.MethodGet, "/historical/MSFT")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.lastQuery.Start.IsZero())
	assert.True(t, svc.lastQuery.End.IsZero())
	assert.JSONEq(t, `{"ticker":"MSFT","historical_data":[]}`, rec.Body.String())
}

func TestGetHistorical_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{"bad ticker", "/historical/$$$", nil, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"bad start", "/historical/AAPL?start_date=2024-13-01", nil, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"bad end", "/historical/AAPL?end_date=yesterday", nil, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"inverted range", "/historical/AAPL", marketdata.ErrInvalidRange, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"unknown ticker", "/historical/ZZZZ", market.NotFoundError("ZZZZ"), http.StatusNotFound, "NOT_FOUND"},
		{"exhausted", "/historical/AAPL", market.UnavailableError("AAPL", market.ErrUpstream), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newEngine(&fakeService{err: tt.err}, nil), http.MethodGet, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestDBStatus(t *testing.T) {
	svc := &fakeService{status: &market.DBStatus{Companies: 10, PriceBars: 210, SampleTickers: []string{"MMM", "AOS"}}}

	rec := serve(newEngine(svc, nil), http.MethodGet, "/db-status")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"connected","companies":10,"historical_records":210,"sample_tickers":["MMM","AOS"]}`, rec.Body.String())
}

func TestDBStatus_StoreDown(t *testing.T) {
	rec := serve(newEngine(&fakeService{err: market.ErrStore}, nil), http.MethodGet, "/db-status")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "DATABASE_ERROR", errorCode(t, rec))
}
