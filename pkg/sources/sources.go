package sources

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
	"github.com/904critic-tech/pawnbroker-pro/pkg/pricing"
)

// EstimateSource is one pricing strategy: the remote function, a vendor
// API, or the local scraper.
type EstimateSource interface {
	Name() string
	// Available reports whether the source is configured at all;
	// unavailable sources are skipped without counting as failures.
	Available() bool
	Estimate(ctx context.Context, query string) (*models.PriceEstimate, error)
}

type source struct {
	name      string
	available func() bool
	estimate  func(ctx context.Context, query string) (*models.PriceEstimate, error)
}

func (s *source) Name() string      { return s.name }
func (s *source) Available() bool   { return s.available() }
func (s *source) Estimate(ctx context.Context, query string) (*models.PriceEstimate, error) {
	return s.estimate(ctx, query)
}

// New wraps an estimate function as a source. A nil available func means
// always available.
func New(name string, available func() bool, estimate func(ctx context.Context, query string) (*models.PriceEstimate, error)) EstimateSource {
	if available == nil {
		available = func() bool { return true }
	}
	return &source{name: name, available: available, estimate: estimate}
}

// FromRecords adapts a sale-record fetcher into an estimate source by
// running its output through the canonical aggregator.
func FromRecords(
	name string,
	available func() bool,
	fetch func(ctx context.Context, query string, limit int) ([]models.SaleRecord, error),
	params pricing.Params,
	limit int,
) EstimateSource {
	return New(name, available, func(ctx context.Context, query string) (*models.PriceEstimate, error) {
		records, err := fetch(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		est, err := pricing.Aggregate(records, params)
		if err != nil {
			return nil, err
		}
		est.Note = fmt.Sprintf("based on %d sold items from %s", est.DataPoints, name)
		return est, nil
	})
}

// Chain tries sources in order until one succeeds. Failures along the way
// are logged and swallowed; only total exhaustion propagates an error.
type Chain struct {
	log     *slog.Logger
	sources []EstimateSource
}

func NewChain(log *slog.Logger, srcs ...EstimateSource) *Chain {
	return &Chain{log: log, sources: srcs}
}

// Estimate walks the chain. The winning source's name is stamped on the
// returned estimate.
func (c *Chain) Estimate(ctx context.Context, query string) (*models.PriceEstimate, error) {
	var lastErr error

	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !src.Available() {
			c.log.Debug("skipping unconfigured source", slog.String("source", src.Name()))
			continue
		}

		est, err := src.Estimate(ctx, query)
		if err != nil {
			c.log.Warn("pricing source failed, falling back",
				slog.String("source", src.Name()),
				slog.String("query", query),
				logger.Err(err),
			)
			lastErr = err
			continue
		}

		est.Source = src.Name()
		c.log.Info("pricing estimate resolved",
			slog.String("source", src.Name()),
			slog.String("query", query),
			slog.Int("data_points", est.DataPoints),
		)
		return est, nil
	}

	if lastErr == nil {
		lastErr = models.ErrNotConfigured
	}
	return nil, fmt.Errorf("all pricing sources exhausted for %q: %w", query, lastErr)
}

// Status is one row of the health report.
type Status struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// Health lists every source and whether it is configured.
func (c *Chain) Health() []Status {
	out := make([]Status, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, Status{Name: src.Name(), Configured: src.Available()})
	}
	return out
}
