package ebay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

const (
	Source  = models.SourceEbayScrape
	BaseURL = "https://www.ebay.com/sch/i.html"

	// minPrice filters out sub-$5 placeholder rows eBay injects into
	// sold-listing result pages.
	minPrice = 5.0
)

var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/121.0",
}

const mobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1"

// Scraper fetches completed-sale listings from eBay search result pages.
// Several URL/header strategies are tried in order because eBay serves
// different layouts (and blocks) depending on the request shape.
type Scraper struct {
	BaseURL string
	Timeout time.Duration

	log   *slog.Logger
	delay time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

func NewScraper(log *slog.Logger, timeout, requestDelay time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scraper{
		BaseURL: BaseURL,
		Timeout: timeout,
		log:     log,
		delay:   requestDelay,
	}
}

type strategy struct {
	name      string
	buildURL  func(s *Scraper, query string, limit int) string
	userAgent func() string
}

var strategies = []strategy{
	{
		name: "standard",
		buildURL: func(s *Scraper, query string, limit int) string {
			params := url.Values{
				"_nkw":        {query},
				"_sacat":      {"0"},
				"LH_Sold":     {"1"},
				"LH_Complete": {"1"},
				"_sop":        {"13"},
				"_ipg":        {strconv.Itoa(limit)},
			}
			return s.BaseURL + "?" + params.Encode()
		},
		userAgent: randomDesktopUA,
	},
	{
		name: "alternate-format",
		buildURL: func(s *Scraper, query string, limit int) string {
			return fmt.Sprintf("%s?_nkw=%s&LH_Sold=1&LH_Complete=1&_sop=13&_ipg=%d&_dmd=2",
				s.BaseURL, url.QueryEscape(query), limit)
		},
		userAgent: randomDesktopUA,
	},
	{
		name: "mobile",
		buildURL: func(s *Scraper, query string, limit int) string {
			params := url.Values{
				"_nkw":        {query},
				"LH_Sold":     {"1"},
				"LH_Complete": {"1"},
				"_sop":        {"13"},
				"_ipg":        {strconv.Itoa(limit)},
			}
			return s.BaseURL + "?" + params.Encode()
		},
		userAgent: func() string { return mobileUserAgent },
	},
	{
		name: "minimal",
		buildURL: func(s *Scraper, query string, limit int) string {
			return fmt.Sprintf("%s?_nkw=%s&LH_Sold=1&_ipg=%d",
				s.BaseURL, url.QueryEscape(query), limit)
		},
		userAgent: randomDesktopUA,
	},
}

func randomDesktopUA() string {
	return desktopUserAgents[rand.Intn(len(desktopUserAgents))]
}

// Search returns sold listings for query, newest first (eBay pre-sorts by
// end time). Strategies are tried until one yields records; the orchestra-
// tor handles falling back to a different source, not this method.
func (s *Scraper) Search(ctx context.Context, query string, limit int) (*models.SearchResults, error) {
	if limit <= 0 {
		limit = 25
	}

	var lastErr error
	for _, st := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.pace()

		items, err := s.fetch(st.buildURL(s, query, limit), st.userAgent())
		if err != nil {
			s.log.Debug("ebay scrape strategy failed",
				slog.String("strategy", st.name),
				slog.String("query", query),
				logger.Err(err),
			)
			lastErr = err
			continue
		}
		if len(items) == 0 {
			lastErr = models.ErrNoResults
			continue
		}

		s.log.Info("ebay scrape succeeded",
			slog.String("strategy", st.name),
			slog.String("query", query),
			slog.Int("items", len(items)),
		)
		return buildResults(query, items), nil
	}

	if lastErr == nil {
		lastErr = models.ErrNoResults
	}
	return nil, fmt.Errorf("all ebay scraping strategies failed for %q: %w", query, lastErr)
}

// fetch loads one search-results page and parses its rows.
func (s *Scraper) fetch(pageURL, userAgent string) ([]models.SaleRecord, error) {
	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(s.Timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		r.Headers.Set("Referer", "https://www.ebay.com/")
	})

	var (
		items []models.SaleRecord
		row   int
	)
	c.OnHTML(".s-item", func(e *colly.HTMLElement) {
		row++
		// the first row is a header/ad slot, never a real sale
		if row == 1 {
			return
		}
		if rec, ok := extractRecord(e, time.Now()); ok {
			items = append(items, rec)
		}
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, err
	}
	return items, nil
}

// pace keeps at least the configured delay between outbound requests so
// repeated queries do not hammer eBay.
func (s *Scraper) pace() {
	if s.delay <= 0 {
		return
	}
	s.mu.Lock()
	wait := s.delay - time.Since(s.lastRequest)
	if wait > 0 {
		s.log.Debug("ebay scrape pacing", slog.Duration("wait", wait))
		time.Sleep(wait)
	}
	s.lastRequest = time.Now()
	s.mu.Unlock()
}

func buildResults(query string, items []models.SaleRecord) *models.SearchResults {
	var total float64
	minP := items[0].Price
	maxP := items[0].Price
	for _, it := range items {
		total += it.Price
		if it.Price < minP {
			minP = it.Price
		}
		if it.Price > maxP {
			maxP = it.Price
		}
	}

	return &models.SearchResults{
		Query:        query,
		Items:        items,
		TotalFound:   len(items),
		AveragePrice: math.Round(total / float64(len(items))),
		MinPrice:     minP,
		MaxPrice:     maxP,
	}
}
