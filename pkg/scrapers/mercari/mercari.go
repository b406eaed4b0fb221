package mercari

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

const (
	Source  = models.SourceMercari
	BaseURL = "https://www.mercari.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var priceRegexp = regexp.MustCompile(`[\$£€]?([\d,]+\.?\d*)`)

// Scraper pulls current resale listings from Mercari search pages. These
// are asking prices, not completed sales, so the aggregator treats them as
// a supporting market rate rather than a primary source.
type Scraper struct {
	BaseURL string
	Timeout time.Duration

	log *slog.Logger
}

func NewScraper(log *slog.Logger, timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Scraper{
		BaseURL: BaseURL,
		Timeout: timeout,
		log:     log,
	}
}

// Search returns current Mercari listings for query, newest first.
func (s *Scraper) Search(ctx context.Context, query string, limit int) ([]models.SaleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := url.Values{
		"keyword": {query},
		"sort":    {"created_time"},
		"order":   {"desc"},
	}
	searchURL := s.BaseURL + "/search?" + params.Encode()

	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(s.Timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})

	var items []models.SaleRecord
	c.OnHTML(`[data-testid="item-card"]`, func(e *colly.HTMLElement) {
		if len(items) >= limit {
			return
		}

		title := strings.TrimSpace(e.ChildText(`[data-testid="item-title"]`))
		price := extractPrice(e.ChildText(`[data-testid="item-price"]`))
		if title == "" || price <= 0 {
			return
		}

		condition := strings.TrimSpace(e.ChildText(`[data-testid="item-condition"]`))
		if condition == "" {
			condition = estimateCondition(title)
		}

		link := e.ChildAttr("a", "href")
		if link != "" && strings.HasPrefix(link, "/") {
			link = s.BaseURL + link
		}

		items = append(items, models.SaleRecord{
			ID:        uuid.NewString(),
			Title:     title,
			Price:     price,
			Condition: condition,
			SoldDate:  time.Now(),
			URL:       link,
			ImageURL:  e.ChildAttr("img", "src"),
			Source:    Source,
		})
	})

	if err := c.Visit(searchURL); err != nil {
		return nil, err
	}

	s.log.Debug("mercari search completed", slog.String("query", query), slog.Int("items", len(items)))
	return items, nil
}

func extractPrice(text string) float64 {
	m := priceRegexp.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}

// estimateCondition infers a bucket from title keywords; listings without
// an explicit condition tag default to "Good".
func estimateCondition(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "like new") || strings.Contains(lower, "mint"):
		return "Excellent"
	case strings.Contains(lower, "brand new") || strings.Contains(lower, "new"):
		return "Excellent"
	case strings.Contains(lower, "fair") || strings.Contains(lower, "acceptable"):
		return "Fair"
	case strings.Contains(lower, "poor") || strings.Contains(lower, "broken"):
		return "Poor"
	default:
		return "Good"
	}
}
