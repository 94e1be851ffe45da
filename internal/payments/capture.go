// Package payments integrates the payment gateway's deferred-capture flow:
// funds authorized at booking time are captured when the consultation closes.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

// CaptureResult is the gateway's answer to a capture request.
type CaptureResult struct {
	TransactionNo string `json:"transactionNo"`
	Status        string `json:"status"`
	AmountMinor   int64  `json:"amount"`
	Reference     string `json:"reference"`
}

// Client talks to the payment gateway.
type Client struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
	logger     *logging.Logger
}

// Config holds payment gateway configuration.
type Config struct {
	BaseURL string
	Key     string
	Secret  string
	Timeout time.Duration
}

// NewClient creates a payment gateway client. Returns nil when no base URL is
// configured.
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if cfg.BaseURL == "" {
		return nil
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		key:        cfg.Key,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Capture collects previously authorized funds by transaction id. Amount is
// in minor currency units.
func (c *Client) Capture(ctx context.Context, transactionNo string, amountMinor int64) (*CaptureResult, error) {
	if c == nil {
		return nil, fmt.Errorf("payments: client not configured")
	}
	if transactionNo == "" {
		return nil, fmt.Errorf("payments: capture: transaction number required")
	}

	payload, err := json.Marshal(map[string]any{
		"transactionNo": transactionNo,
		"amount":        amountMinor,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: capture marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/capture", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("payments: capture build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.key, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: capture request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("payments: capture read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("payments: capture failed: status %d: %s", resp.StatusCode, string(raw))
	}

	var result CaptureResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("payments: capture decode: %w", err)
	}

	c.logger.Info("payments: capture succeeded",
		"transaction_no", transactionNo, "amount_minor", amountMinor, "reference", result.Reference)
	return &result, nil
}
