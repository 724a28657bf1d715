// Package sheets appends rows to an external spreadsheet through a webhook
// endpoint (e.g. an Apps Script deployment). Calls are fire-and-forget:
// the caller logs failures and moves on.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Client struct {
	webhookURL string
	token      string
	client     *http.Client
	logger     *slog.Logger
}

type Config struct {
	WebhookURL string
	Token      string
	Logger     *slog.Logger
}

func New(cfg Config) *Client {
	return &Client{
		webhookURL: cfg.WebhookURL,
		token:      cfg.Token,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     cfg.Logger,
	}
}

// Enabled reports whether a webhook endpoint is configured.
func (c *Client) Enabled() bool { return c.webhookURL != "" }

// AppendRow appends one row to the named sheet.
func (c *Client) AppendRow(ctx context.Context, sheet string, row []string) error {
	if !c.Enabled() {
		return fmt.Errorf("spreadsheet webhook not configured")
	}

	payload := map[string]any{
		"sheet": sheet,
		"row":   row,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheet API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// AppendRows appends several rows, stopping at the first failure.
func (c *Client) AppendRows(ctx context.Context, sheet string, rows [][]string) error {
	for i, row := range rows {
		if err := c.AppendRow(ctx, sheet, row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}
