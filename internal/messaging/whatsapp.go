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

// WhatsAppClient sends template messages through the provider's WhatsApp API.
type WhatsAppClient struct {
	baseURL    string
	apiKey     string
	template   string
	httpClient *http.Client
	logger     *logging.Logger
}

// WhatsAppConfig holds configuration for the WhatsApp provider.
type WhatsAppConfig struct {
	BaseURL  string
	APIKey   string
	Template string
	Timeout  time.Duration
}

// NewWhatsAppClient creates a WhatsApp client. Returns nil when no base URL
// is configured.
func NewWhatsAppClient(cfg WhatsAppConfig, logger *logging.Logger) *WhatsAppClient {
	if cfg.BaseURL == "" {
		return nil
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		template:   cfg.Template,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SendTemplate delivers one templated WhatsApp message. params fill the
// template placeholders in order.
func (c *WhatsAppClient) SendTemplate(ctx context.Context, phone string, params []string) error {
	if c == nil {
		return fmt.Errorf("messaging: whatsapp client not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"phone":    phone,
		"template": c.template,
		"params":   params,
	})
	if err != nil {
		return fmt.Errorf("messaging: whatsapp marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/whatsapp/template", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("messaging: whatsapp build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messaging: whatsapp send: status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("messaging: whatsapp sent", "phone", phone, "template", c.template)
	return nil
}
