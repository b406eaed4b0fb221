package mercari

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const fixtureHTML = `
<!DOCTYPE html>
<html>
<body>
<div data-testid="item-card">
	<a href="/item/m100"><img src="https://static.mercari.com/m100.jpg"/></a>
	<div data-testid="item-title">Nintendo Switch OLED Console</div>
	<div data-testid="item-price">$245</div>
	<div data-testid="item-condition">Like new</div>
</div>
<div data-testid="item-card">
	<a href="/item/m101"></a>
	<div data-testid="item-title">Nintendo Switch Lite Broken Screen</div>
	<div data-testid="item-price">$1,050.50</div>
</div>
<div data-testid="item-card">
	<div data-testid="item-title">Placeholder without price</div>
	<div data-testid="item-price"></div>
</div>
</body>
</html>
`

func testScraper(ts *httptest.Server) *Scraper {
	s := NewScraper(slog.Default(), 5*time.Second)
	s.BaseURL = ts.URL
	return s
}

func TestSearchParsesListings(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fixtureHTML)
	}))
	defer ts.Close()

	items, err := testScraper(ts).Search(context.Background(), "nintendo switch", 20)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items after filtering, got %d", len(items))
	}

	first := items[0]
	if first.Title != "Nintendo Switch OLED Console" {
		t.Errorf("Unexpected first title: %q", first.Title)
	}
	if first.Price != 245 {
		t.Errorf("Expected price 245, got %v", first.Price)
	}
	if first.Condition != "Like new" {
		t.Errorf("Site condition tag should win, got %q", first.Condition)
	}
	if first.URL != ts.URL+"/item/m100" {
		t.Errorf("Relative link should be resolved, got %q", first.URL)
	}
	if first.Source != Source {
		t.Errorf("Unexpected source: %q", first.Source)
	}

	second := items[1]
	if second.Price != 1050.50 {
		t.Errorf("Expected price 1050.50, got %v", second.Price)
	}
	if second.Condition != "Poor" {
		t.Errorf("'Broken' title should infer Poor, got %q", second.Condition)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fixtureHTML)
	}))
	defer ts.Close()

	items, err := testScraper(ts).Search(context.Background(), "nintendo switch", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected limit of 1 item, got %d", len(items))
	}
}

func TestSearchEmptyPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body></body></html>`)
	}))
	defer ts.Close()

	items, err := testScraper(ts).Search(context.Background(), "nothing here", 20)
	if err != nil {
		t.Fatalf("Empty page must not error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
}

func TestEstimateCondition(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Brand New AirPods Pro", "Excellent"},
		{"Like New Kindle", "Excellent"},
		{"Fair condition jacket", "Fair"},
		{"Broken PS4 for parts", "Poor"},
		{"Leather wallet", "Good"},
	}
	for _, tt := range tests {
		if got := estimateCondition(tt.title); got != tt.want {
			t.Errorf("estimateCondition(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
