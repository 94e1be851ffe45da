package messaging

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

// SMSClient sends SMS through the messaging provider's HTTP API.
type SMSClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// SMSConfig holds configuration for the SMS provider.
type SMSConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewSMSClient creates an SMS client. Returns nil when no base URL is
// configured.
func NewSMSClient(cfg SMSConfig, logger *logging.Logger) *SMSClient {
	if cfg.BaseURL == "" {
		return nil
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SMSClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SendSMS delivers one text message. The hospital code lets the provider pick
// a sender id registered for that hospital; it may be empty.
func (c *SMSClient) SendSMS(ctx context.Context, phone, text, hospitalCode string) error {
	if c == nil {
		return fmt.Errorf("messaging: sms client not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"phone":        phone,
		"text":         text,
		"hospitalCode": hospitalCode,
	})
	if err != nil {
		return fmt.Errorf("messaging: sms marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sms", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("messaging: sms build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: sms send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messaging: sms send: status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("messaging: sms sent", "phone", phone, "hospital_code", hospitalCode)
	return nil
}
