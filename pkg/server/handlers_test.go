package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/904critic-tech/pawnbroker-pro/pkg/api"
	"github.com/904critic-tech/pawnbroker-pro/pkg/cache"
	"github.com/904critic-tech/pawnbroker-pro/pkg/config"
	"github.com/904critic-tech/pawnbroker-pro/pkg/history"
	"github.com/904critic-tech/pawnbroker-pro/pkg/market"
	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
	"github.com/904critic-tech/pawnbroker-pro/pkg/sources"
)

type stubSearcher struct {
	results *models.SearchResults
	err     error
	calls   int
}

func (s *stubSearcher) Search(ctx context.Context, query string, limit int) (*models.SearchResults, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.results
	cp.Query = query
	return &cp, nil
}

type stubEstimator struct {
	estimate *models.PriceEstimate
	err      error
	calls    int
}

func (s *stubEstimator) Estimate(ctx context.Context, query string) (*models.PriceEstimate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.estimate
	return &cp, nil
}

func (s *stubEstimator) Health() []sources.Status {
	return []sources.Status{{Name: "ebay-scrape", Configured: true}}
}

type stubAmazon struct {
	available bool
	records   []models.SaleRecord
	err       error
}

func (s *stubAmazon) Available() bool { return s.available }

func (s *stubAmazon) SearchItems(ctx context.Context, query string, limit int) ([]models.SaleRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

type stubCamel struct {
	point *models.PricePoint
	err   error
}

func (s *stubCamel) PriceHistory(ctx context.Context, query string) (*models.PricePoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.point, nil
}

type stubMarket struct {
	report *market.Report
	err    error
}

func (s *stubMarket) Comprehensive(ctx context.Context, query string) (*market.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.report
	cp.Query = query
	return &cp, nil
}

func (s *stubMarket) Health() []sources.Status {
	return []sources.Status{
		{Name: models.SourceMercari, Configured: true},
		{Name: models.SourceCraigslist, Configured: true},
	}
}

type stubHistory struct {
	entries  []history.Entry
	recorded []string
}

func (s *stubHistory) Record(ctx context.Context, query string, est *models.PriceEstimate) error {
	s.recorded = append(s.recorded, query)
	return nil
}

func (s *stubHistory) Entries(ctx context.Context, query string, limit int) ([]history.Entry, error) {
	return s.entries, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Cache: config.Cache{
			Backend:     "memory",
			SearchTTL:   10 * time.Minute,
			EstimateTTL: 15 * time.Minute,
			HistoryTTL:  30 * time.Minute,
		},
		Scraper: config.Scraper{
			MaxConcurrent: 3,
			ResultLimit:   25,
		},
		RateLimit: config.RateLimit{
			Requests: 1000,
			Window:   time.Minute,
		},
	}
}

type fixture struct {
	searcher  *stubSearcher
	estimator *stubEstimator
	amazon    *stubAmazon
	camel     *stubCamel
	market    *stubMarket
	history   *stubHistory
	server    *httptest.Server
}

func newFixture(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		searcher: &stubSearcher{results: &models.SearchResults{
			Items: []models.SaleRecord{
				{Title: "iPhone 13 128GB", Price: 400, Source: models.SourceEbayScrape},
				{Title: "iPhone 13 256GB", Price: 450, Source: models.SourceEbayScrape},
			},
			TotalFound:   2,
			AveragePrice: 425,
			MinPrice:     400,
			MaxPrice:     450,
		}},
		estimator: &stubEstimator{estimate: &models.PriceEstimate{
			MarketValue: 425,
			PawnValue:   128,
			Confidence:  0.41,
			DataPoints:  2,
			Source:      models.SourceEbayScrape,
		}},
		amazon: &stubAmazon{available: false},
		camel:  &stubCamel{err: errors.New("blocked")},
		market: &stubMarket{report: &market.Report{
			Primary: &models.PriceEstimate{
				MarketValue: 425,
				PawnValue:   128,
				Confidence:  0.75,
				DataPoints:  25,
				Source:      models.SourceEbayScrape,
			},
			PossibleRates: []market.SourceRate{
				{Source: models.SourceMercari, MarketValue: 390, PawnValue: 117, DataPoints: 8},
			},
			Combined:     market.Combined{MarketValue: 408, PawnValue: 123, Confidence: 0.83, TotalDataPoints: 33, SourcesUsed: 2},
			SourceStatus: []market.SourceStatus{{Source: models.SourceEbayScrape, Status: "success"}},
			Summary:      market.Summary{PrimarySource: models.SourceEbayScrape},
		}},
		history: &stubHistory{},
	}
	if mutate != nil {
		mutate(f)
	}

	srv := New(
		slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)),
		testConfig(),
		cache.NewMemory(nil),
		f.estimator,
		f.searcher,
		f.amazon,
		f.camel,
		f.market,
		f.history,
	)
	f.server = httptest.NewServer(srv.Router())
	t.Cleanup(f.server.Close)

	return f
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, api.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var envelope api.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, envelope
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/search/iphone 13", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !envelope.Success || envelope.Cached {
		t.Errorf("expected fresh success envelope, got %+v", envelope)
	}

	data, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatalf("remarshal data: %v", err)
	}
	var results models.SearchResults
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if results.TotalFound != 2 || results.AveragePrice != 425 {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestSearchServesSecondHitFromCache(t *testing.T) {
	f := newFixture(t, nil)

	doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/search/iphone", nil)
	_, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/search/iphone", nil)

	if !envelope.Cached {
		t.Error("expected second response to be served from cache")
	}
	if f.searcher.calls != 1 {
		t.Errorf("expected a single scrape, got %d", f.searcher.calls)
	}
}

func TestSearchRejectsShortQuery(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/search/x", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if envelope.Success {
		t.Error("expected failure envelope")
	}
	if f.searcher.calls != 0 {
		t.Error("scraper must not run for an invalid query")
	}
}

func TestEstimateEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/estimate/iphone 13", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !envelope.Success {
		t.Fatalf("expected success, got %+v", envelope)
	}

	data, _ := json.Marshal(envelope.Data)
	var est models.PriceEstimate
	if err := json.Unmarshal(data, &est); err != nil {
		t.Fatalf("decode estimate: %v", err)
	}
	if est.MarketValue != 425 || est.PawnValue != 128 {
		t.Errorf("unexpected estimate: %+v", est)
	}
	if len(f.history.recorded) != 1 || f.history.recorded[0] != "iphone 13" {
		t.Errorf("expected history record for query, got %v", f.history.recorded)
	}
}

func TestEstimateNoDataIs404(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.estimator.err = fmt.Errorf("ebay-scrape: %w", models.ErrInsufficientData)
	})

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/estimate/obscure thing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if envelope.Success {
		t.Error("expected failure envelope")
	}
	if len(f.history.recorded) != 0 {
		t.Error("failed estimates must not be recorded")
	}
}

func TestEstimateUpstreamFailureIs500(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.estimator.err = errors.New("all pricing sources exhausted")
	})

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/estimate/iphone", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if envelope.Error == "" {
		t.Error("expected error detail to be passed through")
	}
}

func TestEstimateVendorFailureIs502(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.estimator.err = fmt.Errorf("ebay-api: %w",
			&models.VendorError{Vendor: "ebay-finding", Code: "500", Message: "internal error"})
	})

	resp, _ := doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/estimate/iphone", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestMarketSearchValidation(t *testing.T) {
	cases := []struct {
		name string
		body any
		want int
	}{
		{"valid", map[string]string{"query": "dewalt drill"}, http.StatusOK},
		{"with category", map[string]string{"query": "dewalt drill", "category": "tools"}, http.StatusOK},
		{"missing query", map[string]string{"category": "tools"}, http.StatusBadRequest},
		{"query too short", map[string]string{"query": "x"}, http.StatusBadRequest},
		{"not json", "plain text", http.StatusBadRequest},
	}

	f := newFixture(t, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, f.server.URL+"/api/market/search", tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestBatchEstimates(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodPost, f.server.URL+"/api/market/batch",
		map[string]any{"queries": []string{"iphone 13", "ps5 console"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	data, _ := json.Marshal(envelope.Data)
	var results []batchResult
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("decode batch results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Estimate == nil || r.Error != "" {
			t.Errorf("expected estimate for %q, got %+v", r.Query, r)
		}
	}
}

func TestBatchPartialFailure(t *testing.T) {
	f := newFixture(t, nil)

	// first query resolves and is cached; then the chain starts failing
	doJSON(t, http.MethodGet, f.server.URL+"/api/ebay/estimate/iphone 13", nil)
	f.estimator.err = errors.New("scraper blocked")

	_, envelope := doJSON(t, http.MethodPost, f.server.URL+"/api/market/batch",
		map[string]any{"queries": []string{"iphone 13", "ps5 console"}})

	data, _ := json.Marshal(envelope.Data)
	var results []batchResult
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("decode batch results: %v", err)
	}
	if results[0].Estimate == nil {
		t.Error("cached query should still resolve")
	}
	if results[1].Error == "" {
		t.Error("failed query should carry its error")
	}
}

func TestBatchRejectsOversizedRequest(t *testing.T) {
	f := newFixture(t, nil)

	queries := make([]string, 11)
	for i := range queries {
		queries[i] = fmt.Sprintf("item %d", i)
	}

	resp, _ := doJSON(t, http.MethodPost, f.server.URL+"/api/market/batch", map[string]any{"queries": queries})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for 11 queries, got %d", resp.StatusCode)
	}
}

func TestComprehensiveEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/market/comprehensive/iphone 12", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !envelope.Success {
		t.Fatalf("expected success envelope, got %+v", envelope)
	}

	data, _ := json.Marshal(envelope.Data)
	var report market.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Primary == nil || report.Primary.MarketValue != 425 {
		t.Errorf("expected primary estimate, got %+v", report.Primary)
	}
	if len(report.PossibleRates) != 1 || report.PossibleRates[0].Source != models.SourceMercari {
		t.Errorf("expected mercari supporting rate, got %+v", report.PossibleRates)
	}
	if report.Combined.SourcesUsed != 2 {
		t.Errorf("unexpected combined stats: %+v", report.Combined)
	}
	if len(f.history.recorded) != 1 {
		t.Errorf("expected primary estimate recorded to history, got %v", f.history.recorded)
	}
}

func TestComprehensiveRejectsShortQuery(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodGet, f.server.URL+"/api/market/comprehensive/x", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBreakdownEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/market/breakdown/iphone 12", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	data, _ := json.Marshal(envelope.Data)
	var breakdown breakdownResponse
	if err := json.Unmarshal(data, &breakdown); err != nil {
		t.Fatalf("decode breakdown: %v", err)
	}
	if breakdown.Primary == nil || breakdown.Primary.Source != models.SourceEbayScrape {
		t.Errorf("expected primary source in breakdown, got %+v", breakdown.Primary)
	}
	if len(breakdown.SourceStatus) == 0 {
		t.Error("expected per-source status list")
	}
}

func TestQuickEstimateRoute(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/market/quick/iphone 12", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	data, _ := json.Marshal(envelope.Data)
	var est models.PriceEstimate
	if err := json.Unmarshal(data, &est); err != nil {
		t.Fatalf("decode estimate: %v", err)
	}
	if est.MarketValue != 425 {
		t.Errorf("expected chain estimate, got %+v", est)
	}
}

func TestAmazonSearchNotConfigured(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodGet, f.server.URL+"/api/amazon/search/kindle", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestAmazonSearchConfigured(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.amazon.available = true
		f.amazon.records = []models.SaleRecord{
			{Title: "Kindle Paperwhite", Price: 139.99, Source: models.SourceAmazon},
		}
	})

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/amazon/search/kindle", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !envelope.Success {
		t.Errorf("expected success envelope, got %+v", envelope)
	}
}

func TestPriceHistoryCombinesSources(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.history.entries = []history.Entry{
			{Query: "iphone 13", MarketValue: 425, PawnValue: 128, Source: "ebay-scrape", CreatedAt: time.Now()},
		}
		f.camel = &stubCamel{point: &models.PricePoint{Title: "iPhone 13", Current: 399}}
	})

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/price-history/iphone 13", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	data, _ := json.Marshal(envelope.Data)
	var hist priceHistoryResponse
	if err := json.Unmarshal(data, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.History) != 1 || hist.Amazon == nil {
		t.Errorf("expected both history rows and camel data, got %+v", hist)
	}
}

func TestPriceHistoryEmptyIs404(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := doJSON(t, http.MethodGet, f.server.URL+"/api/price-history/never seen", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, envelope := doJSON(t, http.MethodGet, f.server.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !envelope.Success {
		t.Errorf("expected success envelope, got %+v", envelope)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	f := newFixture(t, nil)

	// rebuild with a 2-request window
	cfg := testConfig()
	cfg.RateLimit.Requests = 2
	srv := New(
		slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)),
		cfg,
		cache.NewMemory(nil),
		f.estimator,
		f.searcher,
		f.amazon,
		f.camel,
		f.market,
		f.history,
	)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)
	resp, envelope := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil)

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", resp.StatusCode)
	}
	if envelope.Success {
		t.Error("expected failure envelope")
	}
}
