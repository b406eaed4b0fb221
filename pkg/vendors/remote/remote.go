package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
)

// Client calls the hosted pricing function. It is the preferred estimate
// path when configured; any failure makes the orchestrator fall back to a
// local source.
type Client struct {
	url  string
	http *http.Client
	log  *slog.Logger
}

func New(log *slog.Logger, url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Available reports whether a function URL was configured.
func (c *Client) Available() bool { return c.url != "" }

type envelope struct {
	Success bool                  `json:"success"`
	Data    *models.PriceEstimate `json:"data"`
	Error   string                `json:"error"`
}

// Estimate posts the item name and returns the remote estimate. A non-
// success body counts as a failure so the caller can fall back.
func (c *Client) Estimate(ctx context.Context, query string) (*models.PriceEstimate, error) {
	if !c.Available() {
		return nil, models.ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]string{"itemName": query})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing function request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing function status %d", resp.StatusCode)
	}

	var decoded envelope
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("pricing function response decode failed: %w", err)
	}

	if !decoded.Success || decoded.Data == nil {
		msg := decoded.Error
		if msg == "" {
			msg = "pricing function returned no data"
		}
		return nil, fmt.Errorf("pricing function: %s", msg)
	}

	c.log.Info("remote pricing function succeeded", slog.String("query", query))
	return decoded.Data, nil
}
