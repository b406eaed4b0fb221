package amazonpa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

const (
	Source = models.SourceAmazon

	searchPath = "/paapi5/searchitems"
	amzTarget  = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.SearchItems"
)

// Client calls the Product Advertising API v5 SearchItems operation with
// SigV4-signed POST requests.
type Client struct {
	// Endpoint overrides the https://<host> base, for tests.
	Endpoint string

	accessKey  string
	secretKey  string
	partnerTag string
	region     string
	host       string
	http       *http.Client
	log        *slog.Logger
	now        func() time.Time
}

func New(log *slog.Logger, accessKey, secretKey, partnerTag, region, host string) *Client {
	if region == "" {
		region = "us-east-1"
	}
	if host == "" {
		host = "webservices.amazon.com"
	}
	return &Client{
		accessKey:  accessKey,
		secretKey:  secretKey,
		partnerTag: partnerTag,
		region:     region,
		host:       host,
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        log,
		now:        time.Now,
	}
}

// Available reports whether AWS credentials were configured.
func (c *Client) Available() bool {
	return c.accessKey != "" && c.secretKey != ""
}

type searchRequest struct {
	Keywords    string   `json:"Keywords"`
	SearchIndex string   `json:"SearchIndex"`
	ItemCount   int      `json:"ItemCount"`
	PartnerTag  string   `json:"PartnerTag,omitempty"`
	PartnerType string   `json:"PartnerType,omitempty"`
	Resources   []string `json:"Resources"`
}

type searchResponse struct {
	SearchResult struct {
		Items []paapiItem `json:"Items"`
	} `json:"SearchResult"`
	Errors []struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Errors"`
}

type paapiItem struct {
	ASIN          string `json:"ASIN"`
	DetailPageURL string `json:"DetailPageURL"`
	ItemInfo      struct {
		Title struct {
			DisplayValue string `json:"DisplayValue"`
		} `json:"Title"`
	} `json:"ItemInfo"`
	Offers struct {
		Listings []struct {
			Price struct {
				Amount float64 `json:"Amount"`
			} `json:"Price"`
		} `json:"Listings"`
	} `json:"Offers"`
	Images struct {
		Primary struct {
			Medium struct {
				URL string `json:"URL"`
			} `json:"Medium"`
		} `json:"Primary"`
	} `json:"Images"`
}

// SearchItems returns current Amazon offers for query mapped into sale
// records. These are asking prices rather than completed sales, so the
// caller labels them source "amazon" and weighs them accordingly.
func (c *Client) SearchItems(ctx context.Context, query string, limit int) ([]models.SaleRecord, error) {
	if !c.Available() {
		return nil, models.ErrNotConfigured
	}
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	payload, err := json.Marshal(searchRequest{
		Keywords:    query,
		SearchIndex: "All",
		ItemCount:   limit,
		PartnerTag:  c.partnerTag,
		PartnerType: "Associates",
		Resources: []string{
			"ItemInfo.Title",
			"Offers.Listings.Price",
			"Images.Primary.Medium",
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = "https://" + c.host
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Host = c.host
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-Amz-Target", amzTarget)
	signRequest(req, payload, c.accessKey, c.secretKey, c.region, c.now())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("amazon paapi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("amazon paapi response decode failed: %w", err)
	}

	if len(decoded.Errors) > 0 {
		return nil, &models.VendorError{
			Vendor:  "amazon-paapi",
			Code:    decoded.Errors[0].Code,
			Message: decoded.Errors[0].Message,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &models.VendorError{
			Vendor:  "amazon-paapi",
			Code:    strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(body)),
		}
	}

	items := decoded.SearchResult.Items
	records := make([]models.SaleRecord, 0, len(items))
	for _, it := range items {
		records = append(records, mapItem(it))
	}

	c.log.Info("amazon paapi search succeeded",
		slog.String("query", query),
		slog.Int("items", len(records)),
	)
	return records, nil
}

func mapItem(it paapiItem) models.SaleRecord {
	rec := models.SaleRecord{
		ID:        it.ASIN,
		Title:     "Unknown Product",
		Condition: "New",
		SoldDate:  time.Now(),
		URL:       it.DetailPageURL,
		ImageURL:  it.Images.Primary.Medium.URL,
		Source:    Source,
	}
	if it.ItemInfo.Title.DisplayValue != "" {
		rec.Title = it.ItemInfo.Title.DisplayValue
	}
	if rec.URL == "" && it.ASIN != "" {
		rec.URL = "https://www.amazon.com/dp/" + it.ASIN
	}
	if len(it.Offers.Listings) > 0 {
		rec.Price = it.Offers.Listings[0].Price.Amount
	}
	return rec
}
