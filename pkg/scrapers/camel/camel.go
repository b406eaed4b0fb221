package camel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

const (
	BaseURL = "https://camelcamelcamel.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var priceRegexp = regexp.MustCompile(`\$([\d,]+\.?\d*)`)

// Scraper pulls Amazon price-history points from CamelCamelCamel product
// pages. The site renders its tables client-side, so a headless browser is
// required instead of a plain GET.
type Scraper struct {
	BaseURL string
	Timeout time.Duration

	log *slog.Logger
}

func NewScraper(log *slog.Logger, timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Scraper{
		BaseURL: BaseURL,
		Timeout: timeout,
		log:     log,
	}
}

// PriceHistory searches for query and scrapes current/highest/lowest Amazon
// prices from the first matching product. Best effort: any failure returns
// an error the caller should treat as "history unavailable".
func (s *Scraper) PriceHistory(ctx context.Context, query string) (*models.PricePoint, error) {
	searchURL := fmt.Sprintf("%s/search?sq=%s", s.BaseURL, url.QueryEscape(query))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	scrapeCtx, cancelScrape := context.WithTimeout(browserCtx, s.Timeout)
	defer cancelScrape()

	var title, productHref, tableText string

	s.log.Debug("navigating camelcamelcamel", slog.String("url", searchURL))

	err := chromedp.Run(scrapeCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitReady(`.search_results, .product_row, #not_found`, chromedp.ByQuery),
		chromedp.Evaluate(`document.querySelector(".product_row a.product_title, .search_results a")?.getAttribute("href") || ""`, &productHref),
	)
	if err != nil {
		return nil, fmt.Errorf("camel search failed: %w", err)
	}
	if productHref == "" {
		return nil, models.ErrNoResults
	}

	productURL := productHref
	if strings.HasPrefix(productURL, "/") {
		productURL = s.BaseURL + productURL
	}

	err = chromedp.Run(scrapeCtx,
		chromedp.Navigate(productURL),
		chromedp.WaitReady(`h1, .camelegend`, chromedp.ByQuery),
		chromedp.Evaluate(`document.querySelector("h1")?.innerText || ""`, &title),
		chromedp.Evaluate(`document.querySelector("table.product_pane, .camelegend")?.innerText || document.body.innerText`, &tableText),
	)
	if err != nil {
		return nil, fmt.Errorf("camel product page failed: %w", err)
	}

	point := parsePricePane(tableText)
	if point == nil {
		return nil, models.ErrNoResults
	}
	point.Title = strings.TrimSpace(title)
	point.ProductURL = productURL
	point.ScrapedAt = time.Now()
	return point, nil
}

// parsePricePane reads the "Current / Highest / Lowest" rows out of the
// price pane text.
func parsePricePane(text string) *models.PricePoint {
	point := &models.PricePoint{}
	found := false

	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		price, ok := extractDollar(line)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(lower, "current"):
			point.Current = price
			found = true
		case strings.Contains(lower, "highest"):
			point.Highest = price
			found = true
		case strings.Contains(lower, "lowest"):
			point.Lowest = price
			found = true
		}
	}

	if !found {
		return nil
	}
	return point
}

func extractDollar(text string) (float64, bool) {
	m := priceRegexp.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
