package ebay

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

var (
	// priceRegexp tolerates $, £ and € prefixes and thousands separators.
	priceRegexp    = regexp.MustCompile(`[\$£€]?([\d,]+\.?\d*)`)
	relDateRegexp  = regexp.MustCompile(`(\d+)\s+(day|week|month)s?\s+ago`)
	placeholderTxt = []string{"shop on ebay", "click here", "see details", "view item"}
)

// extractRecord pulls one sale record out of a result row. Rows without a
// real title and a usable price are noise, not failures, and are dropped.
func extractRecord(e *colly.HTMLElement, now time.Time) (models.SaleRecord, bool) {
	title := strings.TrimSpace(firstText(e.DOM, ".s-item__title", "h3", "h2"))
	if isPlaceholder(title) {
		return models.SaleRecord{}, false
	}

	price := extractPrice(firstText(e.DOM, ".s-item__price"))
	if price < minPrice {
		return models.SaleRecord{}, false
	}

	soldDate := now
	if dateText := firstText(e.DOM, ".s-item__title--tagblock .POSITIVE", ".s-item__title--tagblock span", ".s-item__caption"); dateText != "" {
		soldDate = parseSoldDate(dateText, now)
	}

	link := e.ChildAttr("a.s-item__link", "href")
	if link == "" {
		link = e.ChildAttr("a", "href")
	}

	img := e.ChildAttr(".s-item__image img", "src")
	if img == "" {
		img = e.ChildAttr("img", "src")
	}

	return models.SaleRecord{
		ID:        uuid.NewString(),
		Title:     title,
		Price:     price,
		Condition: estimateCondition(title),
		SoldDate:  soldDate,
		Shipping:  parseShipping(firstText(e.DOM, ".s-item__shipping", ".s-item__logisticsCost")),
		URL:       link,
		ImageURL:  img,
		Source:    Source,
	}, true
}

// firstText returns the text of the first selector that matches.
func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		if text := strings.TrimSpace(sel.Find(s).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func isPlaceholder(title string) bool {
	if title == "" {
		return true
	}
	lower := strings.ToLower(title)
	for _, p := range placeholderTxt {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// extractPrice parses "$1,234.56", "£99" and the like. Returns 0 when no
// numeric value is present.
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

// parseSoldDate understands the relative forms eBay renders ("Today",
// "Yesterday", "3 days ago"). Anything else defaults to now.
func parseSoldDate(text string, now time.Time) time.Time {
	if strings.Contains(text, "Today") {
		return now
	}
	if strings.Contains(text, "Yesterday") {
		return now.Add(-24 * time.Hour)
	}

	if m := relDateRegexp.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return now
		}
		switch m[2] {
		case "day":
			return now.Add(-time.Duration(n) * 24 * time.Hour)
		case "week":
			return now.Add(-time.Duration(n) * 7 * 24 * time.Hour)
		case "month":
			return now.Add(-time.Duration(n) * 30 * 24 * time.Hour)
		}
	}

	return now
}

// parseShipping treats "Free shipping" and absent text as zero cost.
func parseShipping(text string) float64 {
	if text == "" || strings.Contains(strings.ToLower(text), "free") {
		return 0
	}
	return extractPrice(text)
}

// estimateCondition infers a condition bucket from title keywords. "like
// new" and "renewed" must be checked before the bare "new" substring.
func estimateCondition(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "like new") || strings.Contains(lower, "renewed") || strings.Contains(lower, "good"):
		return "Good"
	case strings.Contains(lower, "brand new") || strings.Contains(lower, "new"):
		return "New"
	case strings.Contains(lower, "excellent") || strings.Contains(lower, "mint"):
		return "Excellent"
	case strings.Contains(lower, "fair") || strings.Contains(lower, "acceptable"):
		return "Fair"
	case strings.Contains(lower, "poor") || strings.Contains(lower, "damaged"):
		return "Poor"
	default:
		return "Used"
	}
}
