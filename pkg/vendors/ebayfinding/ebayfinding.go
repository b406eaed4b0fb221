package ebayfinding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

const (
	Source  = models.SourceEbayAPI
	BaseURL = "https://svcs.ebay.com/services/search/FindingService/v1"
)

// Client calls the eBay Finding API findCompletedItems operation.
type Client struct {
	BaseURL string

	appID    string
	globalID string
	http     *http.Client
	log      *slog.Logger
}

func New(log *slog.Logger, appID, globalID string) *Client {
	if globalID == "" {
		globalID = "EBAY-US"
	}
	return &Client{
		BaseURL:  BaseURL,
		appID:    appID,
		globalID: globalID,
		http:     &http.Client{Timeout: 12 * time.Second},
		log:      log,
	}
}

// Available reports whether an app ID was configured. Without one the
// adapter degrades to a "not configured" health status.
func (c *Client) Available() bool { return c.appID != "" }

// The Finding API wraps every field in a single-element array.
type findingResponse struct {
	FindCompletedItemsResponse []struct {
		Ack          []string `json:"ack"`
		ErrorMessage []struct {
			Error []struct {
				ErrorID []string `json:"errorId"`
				Message []string `json:"message"`
			} `json:"error"`
		} `json:"errorMessage"`
		SearchResult []struct {
			Item []findingItem `json:"item"`
		} `json:"searchResult"`
	} `json:"findCompletedItemsResponse"`
}

type findingItem struct {
	ItemID        []string `json:"itemId"`
	Title         []string `json:"title"`
	GalleryURL    []string `json:"galleryURL"`
	ViewItemURL   []string `json:"viewItemURL"`
	SellingStatus []struct {
		CurrentPrice []struct {
			Value string `json:"__value__"`
		} `json:"currentPrice"`
	} `json:"sellingStatus"`
	ListingInfo []struct {
		EndTime []string `json:"endTime"`
	} `json:"listingInfo"`
	Condition []struct {
		ConditionDisplayName []string `json:"conditionDisplayName"`
	} `json:"condition"`
	ShippingInfo []struct {
		ShippingServiceCost []struct {
			Value string `json:"__value__"`
		} `json:"shippingServiceCost"`
	} `json:"shippingInfo"`
}

// SearchSoldItems returns completed sales for query mapped into the common
// sale-record shape. Non-success acknowledgements surface as VendorError;
// there is no internal retry.
func (c *Client) SearchSoldItems(ctx context.Context, query string, limit int) ([]models.SaleRecord, error) {
	if !c.Available() {
		return nil, models.ErrNotConfigured
	}
	if limit <= 0 {
		limit = 20
	}

	params := url.Values{
		"OPERATION-NAME":                {"findCompletedItems"},
		"SERVICE-VERSION":               {"1.13.0"},
		"SECURITY-APPNAME":              {c.appID},
		"RESPONSE-DATA-FORMAT":          {"JSON"},
		"REST-PAYLOAD":                  {""},
		"keywords":                      {query},
		"itemFilter(0).name":            {"SoldItemsOnly"},
		"itemFilter(0).value":           {"true"},
		"itemFilter(1).name":            {"ListingType"},
		"itemFilter(1).value":           {"AuctionWithBIN,FixedPrice"},
		"sortOrder":                     {"EndTimeSoonest"},
		"paginationInput.entriesPerPage": {strconv.Itoa(limit)},
		"GLOBAL-ID":                     {c.globalID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ebay finding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &models.VendorError{
			Vendor:  "ebay-finding",
			Code:    strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(body)),
		}
	}

	var decoded findingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ebay finding response decode failed: %w", err)
	}

	if len(decoded.FindCompletedItemsResponse) == 0 {
		return nil, &models.VendorError{Vendor: "ebay-finding", Message: "empty response envelope"}
	}
	outer := decoded.FindCompletedItemsResponse[0]

	if len(outer.Ack) == 0 || outer.Ack[0] != "Success" {
		ve := &models.VendorError{Vendor: "ebay-finding", Message: "non-success acknowledgement"}
		if len(outer.ErrorMessage) > 0 && len(outer.ErrorMessage[0].Error) > 0 {
			e := outer.ErrorMessage[0].Error[0]
			if len(e.ErrorID) > 0 {
				ve.Code = e.ErrorID[0]
			}
			if len(e.Message) > 0 {
				ve.Message = e.Message[0]
			}
		}
		return nil, ve
	}

	if len(outer.SearchResult) == 0 || len(outer.SearchResult[0].Item) == 0 {
		c.log.Info("ebay finding api returned no sold items", slog.String("query", query))
		return nil, nil
	}

	items := outer.SearchResult[0].Item
	records := make([]models.SaleRecord, 0, len(items))
	for _, it := range items {
		records = append(records, mapItem(it))
	}

	c.log.Info("ebay finding api search succeeded",
		slog.String("query", query),
		slog.Int("items", len(records)),
	)
	return records, nil
}

// mapItem flattens the array-wrapped vendor schema; missing optional
// fields take documented defaults (condition "Used", price 0).
func mapItem(it findingItem) models.SaleRecord {
	rec := models.SaleRecord{
		ID:        fmt.Sprintf("ebay-%d", time.Now().UnixNano()),
		Title:     "Unknown Item",
		Condition: "Used",
		SoldDate:  time.Now(),
		Source:    Source,
	}

	if len(it.ItemID) > 0 {
		rec.ID = it.ItemID[0]
	}
	if len(it.Title) > 0 && it.Title[0] != "" {
		rec.Title = it.Title[0]
	}
	if len(it.SellingStatus) > 0 && len(it.SellingStatus[0].CurrentPrice) > 0 {
		if v, err := strconv.ParseFloat(it.SellingStatus[0].CurrentPrice[0].Value, 64); err == nil {
			rec.Price = v
		}
	}
	if len(it.ListingInfo) > 0 && len(it.ListingInfo[0].EndTime) > 0 {
		if t, err := time.Parse(time.RFC3339, it.ListingInfo[0].EndTime[0]); err == nil {
			rec.SoldDate = t
		}
	}
	if len(it.Condition) > 0 && len(it.Condition[0].ConditionDisplayName) > 0 {
		rec.Condition = it.Condition[0].ConditionDisplayName[0]
	}
	if len(it.ShippingInfo) > 0 && len(it.ShippingInfo[0].ShippingServiceCost) > 0 {
		if v, err := strconv.ParseFloat(it.ShippingInfo[0].ShippingServiceCost[0].Value, 64); err == nil {
			rec.Shipping = v
		}
	}
	if len(it.GalleryURL) > 0 {
		rec.ImageURL = it.GalleryURL[0]
	}
	if len(it.ViewItemURL) > 0 {
		rec.URL = it.ViewItemURL[0]
	}

	return rec
}
