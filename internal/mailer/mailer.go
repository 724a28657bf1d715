// Package mailer sends transactional email through an HTTP mail API.
package mailer

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

const defaultAPIBase = "https://api.resend.com"

type Client struct {
	apiKey  string
	apiBase string
	from    string
	client  *http.Client
	logger  *slog.Logger
}

type Config struct {
	APIKey  string
	APIBase string
	From    string
	Logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return &Client{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		from:    cfg.From,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  cfg.Logger,
	}
}

// Enabled reports whether the mail API is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" && c.from != "" }

// Send dispatches one plain-text email. At-least-once: there is no
// compensation if a later step in the same turn fails.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if !c.Enabled() {
		return fmt.Errorf("mail API not configured")
	}

	payload := map[string]any{
		"from":    c.from,
		"to":      []string{to},
		"subject": subject,
		"text":    body,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiBase+"/emails", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mail API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
