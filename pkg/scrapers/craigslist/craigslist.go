package craigslist

import (
	"context"
	"fmt"
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
	Source = models.SourceCraigslist

	// DefaultSite is the craigslist region subdomain searched when none is
	// configured.
	DefaultSite = "sfbay"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// postedLayout matches the datetime attribute on result rows.
	postedLayout = "2006-01-02 15:04"
)

var (
	priceRegexp   = regexp.MustCompile(`[\$£€]?([\d,]+\.?\d*)`)
	imageIDRegexp = regexp.MustCompile(`1:([^,]+)`)
)

// Scraper pulls classified listings from a craigslist regional site. Ads
// are local asking prices; the aggregator labels them as a supporting
// market rate.
type Scraper struct {
	BaseURL string
	Timeout time.Duration

	site string
	log  *slog.Logger
}

func NewScraper(log *slog.Logger, site string, timeout time.Duration) *Scraper {
	if site == "" {
		site = DefaultSite
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Scraper{
		BaseURL: fmt.Sprintf("https://%s.craigslist.org", site),
		Timeout: timeout,
		site:    site,
		log:     log,
	}
}

// Search returns recent for-sale listings for query, newest first.
func (s *Scraper) Search(ctx context.Context, query string, limit int) ([]models.SaleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := url.Values{
		"query": {query},
		"sort":  {"date"},
	}
	searchURL := s.BaseURL + "/search/sss?" + params.Encode()

	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(s.Timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})

	var items []models.SaleRecord
	c.OnHTML(".result-row", func(e *colly.HTMLElement) {
		if len(items) >= limit {
			return
		}

		title := strings.TrimSpace(e.ChildText(".result-title"))
		price := extractPrice(e.ChildText(".result-price"))
		if title == "" || price <= 0 {
			return
		}

		link := e.ChildAttr(".result-title", "href")
		if link != "" && strings.HasPrefix(link, "/") {
			link = s.BaseURL + link
		}

		items = append(items, models.SaleRecord{
			ID:        uuid.NewString(),
			Title:     title,
			Price:     price,
			Condition: "Good",
			SoldDate:  parsePosted(e.ChildAttr(".result-date", "datetime")),
			Location:  strings.Trim(strings.TrimSpace(e.ChildText(".result-hood")), "()"),
			URL:       link,
			ImageURL:  imageURL(e.ChildAttr(".result-image", "data-ids")),
			Source:    Source,
		})
	})

	if err := c.Visit(searchURL); err != nil {
		return nil, err
	}

	s.log.Debug("craigslist search completed",
		slog.String("site", s.site),
		slog.String("query", query),
		slog.Int("items", len(items)),
	)
	return items, nil
}

func parsePosted(datetime string) time.Time {
	if t, err := time.Parse(postedLayout, datetime); err == nil {
		return t
	}
	return time.Now()
}

// imageURL resolves the first id in a "1:abc123,1:def456" data-ids attr to
// a thumbnail URL.
func imageURL(dataIDs string) string {
	m := imageIDRegexp.FindStringSubmatch(dataIDs)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("https://images.craigslist.org/%s_300x300.jpg", m[1])
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
