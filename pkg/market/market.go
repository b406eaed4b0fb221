package market

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
	"github.com/904critic-tech/pawnbroker-pro/pkg/sources"
)

// Estimator is the primary pricing path (the ordered source chain).
type Estimator interface {
	Estimate(ctx context.Context, query string) (*models.PriceEstimate, error)
}

// PriceHistorian supplies Amazon price-history snapshots.
type PriceHistorian interface {
	PriceHistory(ctx context.Context, query string) (*models.PricePoint, error)
}

// SourceRate is one supporting marketplace's view of the query's price.
type SourceRate struct {
	Source      string            `json:"source"`
	MarketValue float64           `json:"marketValue"`
	PawnValue   float64           `json:"pawnValue"`
	Confidence  float64           `json:"confidence"`
	DataPoints  int               `json:"dataPoints"`
	PriceRange  models.PriceRange `json:"priceRange"`
	Note        string            `json:"note"`
}

// SourceStatus reports how one source fared during a comprehensive pass.
type SourceStatus struct {
	Source string `json:"source"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
	statusSkipped = "skipped"
)

// Combined blends the primary estimate with every supporting rate.
type Combined struct {
	MarketValue     float64 `json:"marketValue"`
	PawnValue       float64 `json:"pawnValue"`
	Confidence      float64 `json:"confidence"`
	TotalDataPoints int     `json:"totalDataPoints"`
	SourcesUsed     int     `json:"sourcesUsed"`
	Note            string  `json:"note"`
}

// Summary condenses the pass for display.
type Summary struct {
	PrimarySource     string   `json:"primarySource"`
	SupportingSources []string `json:"supportingSources"`
	TotalSources      int      `json:"totalSources"`
	Recommendation    string   `json:"recommendation"`
}

// Report is the full multi-marketplace result.
type Report struct {
	Query         string                `json:"query"`
	Primary       *models.PriceEstimate `json:"primary,omitempty"`
	PossibleRates []SourceRate          `json:"possibleMarketRates"`
	Combined      Combined              `json:"combined"`
	PriceHistory  *models.PricePoint    `json:"priceHistory,omitempty"`
	SourceStatus  []SourceStatus        `json:"sourceStatus"`
	Summary       Summary               `json:"summary"`
	LastUpdated   time.Time             `json:"lastUpdated"`
}

// Aggregator fans a query out across the primary chain, the supporting
// marketplaces and the price-history scraper, then blends the results.
// Individual source failures degrade to status entries, never to a failed
// report.
type Aggregator struct {
	log       *slog.Logger
	primary   Estimator
	secondary []sources.EstimateSource
	history   PriceHistorian // nil disables price history
}

func New(log *slog.Logger, primary Estimator, secondary []sources.EstimateSource, history PriceHistorian) *Aggregator {
	return &Aggregator{
		log:       log,
		primary:   primary,
		secondary: secondary,
		history:   history,
	}
}

// Health lists every supporting marketplace and whether it is configured.
func (a *Aggregator) Health() []sources.Status {
	out := make([]sources.Status, 0, len(a.secondary))
	for _, src := range a.secondary {
		out = append(out, sources.Status{Name: src.Name(), Configured: src.Available()})
	}
	return out
}

// Comprehensive queries every source in parallel and returns the blended
// report. The primary chain leads; supporting marketplaces contribute
// possible market rates.
func (a *Aggregator) Comprehensive(ctx context.Context, query string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Query:         query,
		PossibleRates: []SourceRate{},
		SourceStatus:  []SourceStatus{},
		LastUpdated:   time.Now(),
	}

	var (
		wg sync.WaitGroup

		primaryEst *models.PriceEstimate
		primaryErr error

		rates    = make([]*SourceRate, len(a.secondary))
		statuses = make([]SourceStatus, len(a.secondary))

		history *models.PricePoint
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		primaryEst, primaryErr = a.primary.Estimate(ctx, query)
	}()

	for i, src := range a.secondary {
		if !src.Available() {
			statuses[i] = SourceStatus{Source: src.Name(), Status: statusSkipped}
			continue
		}

		wg.Add(1)
		go func(i int, src sources.EstimateSource) {
			defer wg.Done()

			est, err := src.Estimate(ctx, query)
			if err != nil {
				a.log.Warn("marketplace source failed",
					slog.String("source", src.Name()),
					slog.String("query", query),
					logger.Err(err),
				)
				statuses[i] = SourceStatus{Source: src.Name(), Status: statusError, Error: err.Error()}
				return
			}

			rates[i] = &SourceRate{
				Source:      src.Name(),
				MarketValue: est.MarketValue,
				PawnValue:   est.PawnValue,
				Confidence:  est.Confidence,
				DataPoints:  est.DataPoints,
				PriceRange:  est.PriceRange,
				Note:        sourceNote(src.Name()),
			}
			statuses[i] = SourceStatus{Source: src.Name(), Status: statusSuccess}
		}(i, src)
	}

	if a.history != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			point, err := a.history.PriceHistory(ctx, query)
			if err != nil {
				a.log.Warn("price history lookup failed", slog.String("query", query), logger.Err(err))
				return
			}
			history = point
		}()
	}

	wg.Wait()

	if primaryErr != nil {
		a.log.Warn("primary pricing chain failed",
			slog.String("query", query),
			logger.Err(primaryErr),
		)
		report.SourceStatus = append(report.SourceStatus,
			SourceStatus{Source: "primary", Status: statusError, Error: primaryErr.Error()})
	} else {
		report.Primary = primaryEst
		report.SourceStatus = append(report.SourceStatus,
			SourceStatus{Source: primaryEst.Source, Status: statusSuccess})
	}

	for i := range a.secondary {
		if rates[i] != nil {
			report.PossibleRates = append(report.PossibleRates, *rates[i])
		}
		report.SourceStatus = append(report.SourceStatus, statuses[i])
	}
	report.PriceHistory = history

	report.Combined = combine(report.Primary, report.PossibleRates)
	report.Summary = summarize(report.Primary, report.PossibleRates, report.SourceStatus)

	return report, nil
}

// combine averages every positive market value, primary included, and
// scores overall confidence by total data volume.
func combine(primary *models.PriceEstimate, rates []SourceRate) Combined {
	var (
		marketValues []float64
		pawnValues   []float64
		totalPoints  int
		used         int
	)

	if primary != nil {
		if primary.MarketValue > 0 {
			marketValues = append(marketValues, primary.MarketValue)
			pawnValues = append(pawnValues, primary.PawnValue)
		}
		totalPoints += primary.DataPoints
		used++
	}
	for _, r := range rates {
		if r.MarketValue > 0 {
			marketValues = append(marketValues, r.MarketValue)
			pawnValues = append(pawnValues, r.PawnValue)
		}
		totalPoints += r.DataPoints
		used++
	}

	c := Combined{
		TotalDataPoints: totalPoints,
		SourcesUsed:     used,
		Note:            "Combined data from multiple marketplaces",
	}
	if len(marketValues) > 0 {
		c.MarketValue = math.Round(mean(marketValues))
		c.PawnValue = math.Round(mean(pawnValues))
	}

	confidence := math.Min(0.95, 0.5+float64(totalPoints)*0.01)
	c.Confidence = math.Round(confidence*100) / 100

	return c
}

func summarize(primary *models.PriceEstimate, rates []SourceRate, statuses []SourceStatus) Summary {
	s := Summary{
		SupportingSources: make([]string, 0, len(rates)),
	}
	for _, r := range rates {
		s.SupportingSources = append(s.SupportingSources, r.Source)
	}
	for _, st := range statuses {
		if st.Status == statusSuccess {
			s.TotalSources++
		}
	}

	var primaryConfidence float64
	if primary != nil {
		s.PrimarySource = primary.Source
		primaryConfidence = primary.Confidence
	}
	s.Recommendation = recommendation(primaryConfidence, len(rates))

	return s
}

func recommendation(primaryConfidence float64, supporting int) string {
	switch {
	case primaryConfidence >= 0.8 && supporting >= 2:
		return "High confidence - Multiple sources confirm pricing"
	case primaryConfidence >= 0.7 && supporting >= 1:
		return "Good confidence - Primary source with supporting data"
	case primaryConfidence >= 0.6:
		return "Moderate confidence - Primary source only"
	default:
		return "Low confidence - Limited data available"
	}
}

func sourceNote(name string) string {
	switch name {
	case models.SourceEbayAPI:
		return "Official eBay API - sold listings data"
	case models.SourceEbayScrape:
		return "eBay web scraping - sold listings data"
	case models.SourceCraigslist:
		return "Local classified ads - prices may vary by location"
	case models.SourceOfferUp:
		return "Mobile marketplace data - prices may vary by location"
	case models.SourceMercari:
		return "Popular resale platform - prices may reflect current market trends"
	default:
		return "Marketplace data"
	}
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
