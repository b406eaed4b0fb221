package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

func records(prices ...float64) []models.SaleRecord {
	out := make([]models.SaleRecord, len(prices))
	for i, p := range prices {
		out[i] = models.SaleRecord{Title: "item", Price: p, Condition: "Used", Source: models.SourceEbayScrape}
	}
	return out
}

func TestAggregateBasicStats(t *testing.T) {
	est, err := Aggregate(records(100, 150, 200), DefaultParams())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if est.MarketValue != 150 {
		t.Errorf("Expected market value 150, got %v", est.MarketValue)
	}
	if est.PriceRange.Min != 100 || est.PriceRange.Max != 200 || est.PriceRange.Avg != 150 {
		t.Errorf("Unexpected price range: %+v", est.PriceRange)
	}
	if est.PawnValue != 45 {
		t.Errorf("Expected pawn value 45, got %v", est.PawnValue)
	}
	if est.DataPoints != 3 {
		t.Errorf("Expected 3 data points, got %d", est.DataPoints)
	}
}

func TestAggregatePawnValueIsThirtyPercent(t *testing.T) {
	for _, prices := range [][]float64{
		{19.99},
		{100, 150, 200},
		{1234.56, 1300, 1199.99, 1250},
		{5, 5, 5, 5, 5, 5},
	} {
		est, err := Aggregate(records(prices...), DefaultParams())
		if err != nil {
			t.Fatalf("Aggregate(%v) failed: %v", prices, err)
		}
		want := math.Round(est.MarketValue * 0.30)
		if est.PawnValue != want {
			t.Errorf("prices %v: pawn value %v, want %v", prices, est.PawnValue, want)
		}
	}
}

func TestAggregateInsufficientData(t *testing.T) {
	cases := map[string][]models.SaleRecord{
		"empty":          {},
		"nil":            nil,
		"all zero price": records(0, 0, 0),
		"negative price": records(-10),
	}
	for name, recs := range cases {
		t.Run(name, func(t *testing.T) {
			est, err := Aggregate(recs, DefaultParams())
			if !errors.Is(err, models.ErrInsufficientData) {
				t.Errorf("Expected ErrInsufficientData, got %v (est=%+v)", err, est)
			}
		})
	}
}

func TestAggregateConfidenceBounds(t *testing.T) {
	cases := [][]float64{
		{1},
		{1, 10000}, // wildly inconsistent
		{50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
	}
	// a large, perfectly consistent sample should hit the cap
	big := make([]float64, 80)
	for i := range big {
		big[i] = 250
	}
	cases = append(cases, big)

	for _, prices := range cases {
		est, err := Aggregate(records(prices...), DefaultParams())
		if err != nil {
			t.Fatalf("Aggregate(%v) failed: %v", prices, err)
		}
		if est.Confidence < 0 || est.Confidence > 0.95 {
			t.Errorf("prices %v: confidence %v out of [0, 0.95]", prices, est.Confidence)
		}
	}
}

func TestAggregateConfidenceGrowsWithSamples(t *testing.T) {
	small, err := Aggregate(records(100, 100, 100), DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	many := make([]float64, 30)
	for i := range many {
		many[i] = 100
	}
	large, err := Aggregate(records(many...), DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	if large.Confidence <= small.Confidence {
		t.Errorf("confidence should grow with sample count: %v (n=3) vs %v (n=30)",
			small.Confidence, large.Confidence)
	}
}

func TestAggregateZeroPricesExcludedFromStats(t *testing.T) {
	recs := append(records(0), records(100, 200)...)
	est, err := Aggregate(recs, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if est.DataPoints != 2 {
		t.Errorf("Expected zero-price record excluded, got %d data points", est.DataPoints)
	}
	if est.PriceRange.Min != 100 {
		t.Errorf("Expected min 100, got %v", est.PriceRange.Min)
	}
}

func TestAggregateRecentSalesCapped(t *testing.T) {
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	est, err := Aggregate(records(prices...), DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if len(est.RecentSales) != 10 {
		t.Errorf("Expected 10 recent sales, got %d", len(est.RecentSales))
	}
	// evidence keeps document order, so the first record comes first
	if est.RecentSales[0].Price != 100 {
		t.Errorf("Expected first recent sale at 100, got %v", est.RecentSales[0].Price)
	}
}

func TestConsistencyScore(t *testing.T) {
	if got := ConsistencyScore([]float64{100}); got != 0.5 {
		t.Errorf("single sample should default to 0.5, got %v", got)
	}
	if got := ConsistencyScore([]float64{100, 100, 100}); got != 1 {
		t.Errorf("identical prices should score 1, got %v", got)
	}
	spread := ConsistencyScore([]float64{10, 500, 1000})
	tight := ConsistencyScore([]float64{95, 100, 105})
	if spread >= tight {
		t.Errorf("wider spread should score lower: spread=%v tight=%v", spread, tight)
	}
}
