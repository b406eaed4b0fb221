package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"

	"github.com/904critic-tech/pawnbroker-pro/pkg/api"
	"github.com/904critic-tech/pawnbroker-pro/pkg/cache"
	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
	"github.com/904critic-tech/pawnbroker-pro/pkg/market"
	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

const minQueryLength = 2

// queryParam validates the {query} path parameter; empty or one-character
// queries are rejected before touching any upstream.
func queryParam(r *http.Request) (string, bool) {
	query := strings.TrimSpace(chi.URLParam(r, "query"))
	return query, len(query) >= minQueryLength
}

func limitParam(r *http.Request, fallback, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.search"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	query, ok := queryParam(r)
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Search query must be at least 2 characters long", nil))
		return
	}
	limit := limitParam(r, s.cfg.Scraper.ResultLimit, 100)

	key := cache.SearchKey(query, limit)
	var cached models.SearchResults
	if cache.GetJSON(r.Context(), s.cache, key, &cached) {
		logger.Dedup("cache hit for %s", key)
		render.JSON(w, r, api.Cached(cached))
		return
	}

	ctx, cancel := withTimeout(r, 60*time.Second)
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		render.Status(r, http.StatusGatewayTimeout)
		render.JSON(w, r, api.Error("Search timed out waiting for a scrape slot", err))
		return
	}
	defer release()

	results, err := s.scraper.Search(ctx, query, limit)
	if err != nil {
		log.Error("ebay search failed", slog.String("query", query), logger.Err(err))
		status, msg := classify(err, "Failed to search eBay listings")
		render.Status(r, status)
		render.JSON(w, r, api.Error(msg, err))
		return
	}

	cache.SetJSON(r.Context(), s.cache, key, results, s.cfg.Cache.SearchTTL)

	log.Info("ebay search completed", slog.String("query", query), slog.Int("items", results.TotalFound))
	render.JSON(w, r, api.OK(results))
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.estimate"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	query, ok := queryParam(r)
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Search query must be at least 2 characters long", nil))
		return
	}

	key := cache.EstimateKey(query)
	var cached models.PriceEstimate
	if cache.GetJSON(r.Context(), s.cache, key, &cached) {
		logger.Dedup("cache hit for %s", key)
		render.JSON(w, r, api.Cached(cached))
		return
	}

	ctx, cancel := withTimeout(r, 90*time.Second)
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		render.Status(r, http.StatusGatewayTimeout)
		render.JSON(w, r, api.Error("Estimate timed out waiting for a scrape slot", err))
		return
	}
	defer release()

	estimate, err := s.chain.Estimate(ctx, query)
	if err != nil {
		log.Error("estimate failed", slog.String("query", query), logger.Err(err))
		status, msg := classify(err, "Failed to get pricing estimate")
		render.Status(r, status)
		render.JSON(w, r, api.Error(msg, err))
		return
	}

	cache.SetJSON(r.Context(), s.cache, key, estimate, s.cfg.Cache.EstimateTTL)
	s.recordHistory(r, query, estimate, log)

	render.JSON(w, r, api.OK(estimate))
}

type marketSearchRequest struct {
	Query    string `json:"query" validate:"required,min=2,max=200"`
	Category string `json:"category" validate:"omitempty,max=50"`
}

func (s *Server) handleMarketSearch(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.market_search"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req marketSearchRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Failed to decode request body", nil))
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, api.ValidationError(validateErrs))
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Invalid request", err))
		return
	}

	ctx, cancel := withTimeout(r, 60*time.Second)
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		render.Status(r, http.StatusGatewayTimeout)
		render.JSON(w, r, api.Error("Search timed out waiting for a scrape slot", err))
		return
	}
	defer release()

	results, err := s.scraper.Search(ctx, req.Query, s.cfg.Scraper.ResultLimit)
	if err != nil {
		log.Error("market search failed", slog.String("query", req.Query), logger.Err(err))
		status, msg := classify(err, "Failed to get market data")
		render.Status(r, status)
		render.JSON(w, r, api.Error(msg, err))
		return
	}

	render.JSON(w, r, api.OK(map[string]any{
		"query":        req.Query,
		"category":     req.Category,
		"results":      results.Items,
		"totalResults": results.TotalFound,
		"averagePrice": results.AveragePrice,
	}))
}

type batchRequest struct {
	Queries []string `json:"queries" validate:"required,min=1,max=10,dive,min=2,max=200"`
}

type batchResult struct {
	Query    string                `json:"query"`
	Estimate *models.PriceEstimate `json:"estimate,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.batch"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req batchRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Failed to decode request body. Expected {\"queries\": [...]}", nil))
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, api.ValidationError(validateErrs))
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Invalid request", err))
		return
	}

	ctx, cancel := withTimeout(r, 5*time.Minute)
	defer cancel()

	results := make([]batchResult, 0, len(req.Queries))
	for _, query := range req.Queries {
		query = strings.TrimSpace(query)

		key := cache.EstimateKey(query)
		var cached models.PriceEstimate
		if cache.GetJSON(ctx, s.cache, key, &cached) {
			results = append(results, batchResult{Query: query, Estimate: &cached})
			continue
		}

		release, err := s.acquire(ctx)
		if err != nil {
			results = append(results, batchResult{Query: query, Error: "timed out waiting for a scrape slot"})
			continue
		}
		estimate, err := s.chain.Estimate(ctx, query)
		release()

		if err != nil {
			log.Warn("batch estimate failed", slog.String("query", query), logger.Err(err))
			results = append(results, batchResult{Query: query, Error: err.Error()})
			continue
		}

		cache.SetJSON(ctx, s.cache, key, estimate, s.cfg.Cache.EstimateTTL)
		s.recordHistory(r, query, estimate, log)
		results = append(results, batchResult{Query: query, Estimate: estimate})
	}

	render.JSON(w, r, api.OK(results))
}

func (s *Server) handleAmazonSearch(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.amazon_search"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	query, ok := queryParam(r)
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Search query must be at least 2 characters long", nil))
		return
	}

	if !s.amazon.Available() {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, api.Error("Amazon product search is not configured", models.ErrNotConfigured))
		return
	}

	ctx, cancel := withTimeout(r, 30*time.Second)
	defer cancel()

	records, err := s.amazon.SearchItems(ctx, query, limitParam(r, 10, 10))
	if err != nil {
		log.Error("amazon search failed", slog.String("query", query), logger.Err(err))
		status, msg := classify(err, "Failed to search Amazon products")
		render.Status(r, status)
		render.JSON(w, r, api.Error(msg, err))
		return
	}

	render.JSON(w, r, api.OK(map[string]any{
		"query": query,
		"items": records,
		"total": len(records),
	}))
}

type priceHistoryResponse struct {
	Query   string             `json:"query"`
	History []historyEntryView `json:"history"`
	Amazon  *models.PricePoint `json:"amazon,omitempty"`
}

type historyEntryView struct {
	MarketValue float64   `json:"marketValue"`
	PawnValue   float64   `json:"pawnValue"`
	Confidence  float64   `json:"confidence"`
	DataPoints  int       `json:"dataPoints"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.price_history"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	query, ok := queryParam(r)
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Search query must be at least 2 characters long", nil))
		return
	}

	key := cache.HistoryKey(query)
	var cached priceHistoryResponse
	if cache.GetJSON(r.Context(), s.cache, key, &cached) {
		logger.Dedup("cache hit for %s", key)
		render.JSON(w, r, api.Cached(cached))
		return
	}

	ctx, cancel := withTimeout(r, 90*time.Second)
	defer cancel()

	resp := priceHistoryResponse{Query: query, History: []historyEntryView{}}

	if s.history != nil {
		entries, err := s.history.Entries(ctx, query, 30)
		if err != nil {
			log.Warn("history lookup failed", slog.String("query", query), logger.Err(err))
		}
		for _, e := range entries {
			resp.History = append(resp.History, historyEntryView{
				MarketValue: e.MarketValue,
				PawnValue:   e.PawnValue,
				Confidence:  e.Confidence,
				DataPoints:  e.DataPoints,
				Source:      e.Source,
				CreatedAt:   e.CreatedAt,
			})
		}
	}

	// camel data is best effort: a blocked scrape must not fail the request
	if s.camel != nil {
		if point, err := s.camel.PriceHistory(ctx, query); err != nil {
			log.Warn("camel price history failed", slog.String("query", query), logger.Err(err))
		} else {
			resp.Amazon = point
		}
	}

	if len(resp.History) == 0 && resp.Amazon == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, api.Error("No price history available for this query", nil))
		return
	}

	cache.SetJSON(r.Context(), s.cache, key, resp, s.cfg.Cache.HistoryTTL)
	render.JSON(w, r, api.OK(resp))
}

// handleComprehensive fans the query across every marketplace and returns
// the blended report. Individual source failures surface in the status
// list, not as request failures.
func (s *Server) handleComprehensive(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.comprehensive"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	query, ok := queryParam(r)
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Search query must be at least 2 characters long", nil))
		return
	}

	ctx, cancel := withTimeout(r, 2*time.Minute)
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		render.Status(r, http.StatusGatewayTimeout)
		render.JSON(w, r, api.Error("Request timed out waiting for a scrape slot", err))
		return
	}
	defer release()

	report, err := s.market.Comprehensive(ctx, query)
	if err != nil {
		log.Error("comprehensive market data failed", slog.String("query", query), logger.Err(err))
		status, msg := classify(err, "Failed to get comprehensive market data")
		render.Status(r, status)
		render.JSON(w, r, api.Error(msg, err))
		return
	}

	if report.Primary != nil {
		s.recordHistory(r, query, report.Primary, log)
	}

	render.JSON(w, r, api.OK(report))
}

type breakdownResponse struct {
	Query         string                `json:"query"`
	Primary       *models.PriceEstimate `json:"primarySource,omitempty"`
	PossibleRates []market.SourceRate   `json:"possibleMarketRates"`
	PriceHistory  *models.PricePoint    `json:"priceHistory,omitempty"`
	Summary       market.Summary        `json:"summary"`
	SourceStatus  []market.SourceStatus `json:"sourceStatus"`
	LastUpdated   time.Time             `json:"lastUpdated"`
}

// handleBreakdown is the per-source view of a comprehensive pass.
func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(
		slog.String("op", "handlers.breakdown"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	query, ok := queryParam(r)
	if !ok {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error("Search query must be at least 2 characters long", nil))
		return
	}

	ctx, cancel := withTimeout(r, 2*time.Minute)
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		render.Status(r, http.StatusGatewayTimeout)
		render.JSON(w, r, api.Error("Request timed out waiting for a scrape slot", err))
		return
	}
	defer release()

	report, err := s.market.Comprehensive(ctx, query)
	if err != nil {
		log.Error("market breakdown failed", slog.String("query", query), logger.Err(err))
		status, msg := classify(err, "Failed to get market data breakdown")
		render.Status(r, status)
		render.JSON(w, r, api.Error(msg, err))
		return
	}

	render.JSON(w, r, api.OK(breakdownResponse{
		Query:         report.Query,
		Primary:       report.Primary,
		PossibleRates: report.PossibleRates,
		PriceHistory:  report.PriceHistory,
		Summary:       report.Summary,
		SourceStatus:  report.SourceStatus,
		LastUpdated:   report.LastUpdated,
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.OK(map[string]any{
		"sources":      s.chain.Health(),
		"marketplaces": s.market.Health(),
		"cacheBackend": s.cfg.Cache.Backend,
		"history":      s.history != nil,
	}))
}

// recordHistory logs the estimate for trend queries; failures only warn.
func (s *Server) recordHistory(r *http.Request, query string, est *models.PriceEstimate, log *slog.Logger) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(r.Context(), query, est); err != nil {
		log.Warn("failed to record estimate history", slog.String("query", query), logger.Err(err))
	}
}

// classify maps pipeline errors onto HTTP status codes. Insufficient data
// is an empty result, not a server fault; vendor and timeout failures are
// gateway errors.
func classify(err error, fallback string) (int, string) {
	var vendorErr *models.VendorError
	switch {
	case errors.Is(err, models.ErrInsufficientData), errors.Is(err, models.ErrNoResults):
		return http.StatusNotFound, "No sold items found for this query"
	case errors.Is(err, models.ErrNotConfigured):
		return http.StatusServiceUnavailable, "No pricing source is configured"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Upstream service timed out"
	case errors.As(err, &vendorErr):
		return http.StatusBadGateway, "Upstream vendor request failed"
	default:
		return http.StatusInternalServerError, fallback
	}
}
