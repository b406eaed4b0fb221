package pricing

import (
	"math"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

// Params holds the constants of the confidence formula and the pawn-offer
// rate. The upstream implementations disagreed on these constants; a single
// parameterized formula is used everywhere instead.
type Params struct {
	// SaturationCount is the sample count at which the data-volume term
	// reaches 1.
	SaturationCount int
	// VolumeWeight and ConsistencyWeight blend the two confidence terms.
	VolumeWeight      float64
	ConsistencyWeight float64
	// PawnRate is the fraction of market value offered as cash.
	PawnRate float64
	// MaxConfidence caps the confidence score.
	MaxConfidence float64
	// RecentSales is how many comparables to return as evidence.
	RecentSales int
}

// DefaultParams returns the canonical constant set.
func DefaultParams() Params {
	return Params{
		SaturationCount:   50,
		VolumeWeight:      0.7,
		ConsistencyWeight: 0.3,
		PawnRate:          0.30,
		MaxConfidence:     0.95,
		RecentSales:       10,
	}
}

// Aggregate reduces sale records into a market-value estimate and a pawn
// offer. Records with non-positive prices are ignored; if none remain the
// call fails with models.ErrInsufficientData.
func Aggregate(records []models.SaleRecord, p Params) (*models.PriceEstimate, error) {
	valid := make([]models.SaleRecord, 0, len(records))
	for _, r := range records {
		if r.Price > 0 {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil, models.ErrInsufficientData
	}

	prices := make([]float64, len(valid))
	minPrice := valid[0].Price
	maxPrice := valid[0].Price
	var total float64
	for i, r := range valid {
		prices[i] = r.Price
		total += r.Price
		if r.Price < minPrice {
			minPrice = r.Price
		}
		if r.Price > maxPrice {
			maxPrice = r.Price
		}
	}
	avgPrice := math.Round(total / float64(len(prices)))

	confidence := p.VolumeWeight*volumeScore(len(prices), p.SaturationCount) +
		p.ConsistencyWeight*ConsistencyScore(prices)
	confidence = clamp(confidence, 0, p.MaxConfidence)

	recent := valid
	if len(recent) > p.RecentSales {
		recent = recent[:p.RecentSales]
	}

	return &models.PriceEstimate{
		MarketValue: avgPrice,
		PawnValue:   math.Round(avgPrice * p.PawnRate),
		Confidence:  confidence,
		DataPoints:  len(prices),
		PriceRange: models.PriceRange{
			Min: minPrice,
			Max: maxPrice,
			Avg: avgPrice,
		},
		RecentSales: recent,
	}, nil
}

func volumeScore(n, saturation int) float64 {
	if saturation <= 0 {
		return 1
	}
	return math.Min(float64(n)/float64(saturation), 1)
}

// ConsistencyScore maps price dispersion to [0,1]: 1 − coefficient of
// variation, floored at 0. Fewer than two samples gives a fixed 0.5.
func ConsistencyScore(prices []float64) float64 {
	if len(prices) < 2 {
		return 0.5
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(prices))
	cv := math.Sqrt(variance) / mean

	return math.Max(0, 1-cv)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
