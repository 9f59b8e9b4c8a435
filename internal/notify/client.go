// Package notify dispatches notification requests to the external
// notification service. Delivery is fire-and-forget: failures are
// logged and swallowed, never surfaced to the end user.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beatmart/chatsync/internal/models"
)

// Client posts notifications to the external notification REST service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a notification client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends one notification create request.
func (c *Client) Post(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification service error %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
