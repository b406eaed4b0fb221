package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"

	"github.com/904critic-tech/pawnbroker-pro/pkg/api"
	"github.com/904critic-tech/pawnbroker-pro/pkg/cache"
	"github.com/904critic-tech/pawnbroker-pro/pkg/config"
	"github.com/904critic-tech/pawnbroker-pro/pkg/history"
	"github.com/904critic-tech/pawnbroker-pro/pkg/market"
	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
	"github.com/904critic-tech/pawnbroker-pro/pkg/sources"
)

// SoldItemSearcher is the scrape path: sold listings plus page stats.
type SoldItemSearcher interface {
	Search(ctx context.Context, query string, limit int) (*models.SearchResults, error)
}

// Estimator resolves a pricing estimate across the ordered source chain.
type Estimator interface {
	Estimate(ctx context.Context, query string) (*models.PriceEstimate, error)
	Health() []sources.Status
}

// ProductSearcher is the Amazon PA-API path.
type ProductSearcher interface {
	Available() bool
	SearchItems(ctx context.Context, query string, limit int) ([]models.SaleRecord, error)
}

// HistoryScraper is the CamelCamelCamel path.
type HistoryScraper interface {
	PriceHistory(ctx context.Context, query string) (*models.PricePoint, error)
}

// HistoryStore logs and lists recorded estimates.
type HistoryStore interface {
	Record(ctx context.Context, query string, est *models.PriceEstimate) error
	Entries(ctx context.Context, query string, limit int) ([]history.Entry, error)
}

// MarketAggregator fans a query across every marketplace at once.
type MarketAggregator interface {
	Comprehensive(ctx context.Context, query string) (*market.Report, error)
	Health() []sources.Status
}

// Server wires the pricing pipeline behind the HTTP surface.
type Server struct {
	log      *slog.Logger
	cfg      *config.Config
	cache    cache.Store
	chain    Estimator
	scraper  SoldItemSearcher
	amazon   ProductSearcher
	camel    HistoryScraper
	market   MarketAggregator
	history  HistoryStore // nil when no DSN is configured
	validate *validator.Validate

	// sem bounds concurrent outbound scrapes across all handlers.
	sem chan struct{}
}

func New(
	log *slog.Logger,
	cfg *config.Config,
	store cache.Store,
	chain Estimator,
	scraper SoldItemSearcher,
	amazon ProductSearcher,
	camelScraper HistoryScraper,
	agg MarketAggregator,
	hist HistoryStore,
) *Server {
	maxConcurrent := cfg.Scraper.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Server{
		log:      log,
		cfg:      cfg,
		cache:    store,
		chain:    chain,
		scraper:  scraper,
		amazon:   amazon,
		camel:    camelScraper,
		market:   agg,
		history:  hist,
		validate: validator.New(),
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Router builds the chi mux with ingress middleware and all API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httprate.Limit(
		s.cfg.RateLimit.Requests,
		s.cfg.RateLimit.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, api.Error("Too many requests, please try again later.", nil))
		}),
	))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Route("/ebay", func(r chi.Router) {
			r.Get("/search/{query}", s.handleSearch)
			r.Get("/estimate/{query}", s.handleEstimate)
		})
		r.Route("/market", func(r chi.Router) {
			r.Post("/search", s.handleMarketSearch)
			r.Post("/batch", s.handleBatch)
			r.Get("/quick/{query}", s.handleEstimate)
			r.Get("/comprehensive/{query}", s.handleComprehensive)
			r.Get("/breakdown/{query}", s.handleBreakdown)
		})
		r.Get("/amazon/search/{query}", s.handleAmazonSearch)
		r.Get("/price-history/{query}", s.handlePriceHistory)
	})

	return r
}

// acquire blocks until a scrape slot is free or the request dies.
func (s *Server) acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// withTimeout caps one outbound pipeline pass.
func withTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
