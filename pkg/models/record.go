package models

import "time"

// Source identifiers for sale records.
const (
	SourceEbayScrape = "ebay-scrape"
	SourceEbayAPI    = "ebay-api"
	SourceAmazon     = "amazon"
	SourceMercari    = "mercari"
	SourceOfferUp    = "offerup"
	SourceCraigslist = "craigslist"
)

// SaleRecord is a completed marketplace transaction used as a price
// comparable. Immutable once parsed.
type SaleRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Price     float64   `json:"price"`
	Condition string    `json:"condition"`
	SoldDate  time.Time `json:"soldDate"`
	Shipping  float64   `json:"shipping,omitempty"`
	Location  string    `json:"location,omitempty"`
	URL       string    `json:"url,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Source    string    `json:"source"`
}

// SearchResults is the shape returned by the sold-listings search endpoints.
type SearchResults struct {
	Query        string       `json:"query"`
	Items        []SaleRecord `json:"items"`
	TotalFound   int          `json:"totalFound"`
	AveragePrice float64      `json:"averagePrice"`
	MinPrice     float64      `json:"minPrice"`
	MaxPrice     float64      `json:"maxPrice"`
}

// PriceRange bounds the comparables that produced an estimate.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// PriceEstimate is the derived market-value / pawn-offer result. It is
// recomputed per request and never persisted by the pipeline itself.
type PriceEstimate struct {
	MarketValue float64      `json:"marketValue"`
	PawnValue   float64      `json:"pawnValue"`
	Confidence  float64      `json:"confidence"`
	DataPoints  int          `json:"dataPoints"`
	PriceRange  PriceRange   `json:"priceRange"`
	RecentSales []SaleRecord `json:"recentSales"`
	Source      string       `json:"source,omitempty"`
	Note        string       `json:"note,omitempty"`
}

// PricePoint is a CamelCamelCamel price-history snapshot for one product.
type PricePoint struct {
	Title      string    `json:"title"`
	Current    float64   `json:"current"`
	Highest    float64   `json:"highest"`
	Lowest     float64   `json:"lowest"`
	ProductURL string    `json:"productUrl"`
	ScrapedAt  time.Time `json:"scrapedAt"`
}
