package hospital

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

var gatewayTracer = otel.Tracer("patientcare.internal.hospital")

// Client performs authenticated HTTP calls against a hospital's booking/EMR
// system. Connection options come from the directory, tokens from the token
// store. On an auth failure the client re-authenticates exactly once and
// retries the original call once before surfacing the error.
type Client struct {
	directory  Directory
	tokens     TokenStore
	httpClient *http.Client
	logger     *logging.Logger
	ttlBuffer  time.Duration
}

// NewClient creates a booking gateway client.
func NewClient(directory Directory, tokens TokenStore, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		directory:  directory,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetTokenTTLBuffer shortens cached token lifetimes by d so the cache expires
// before the upstream token does.
func (c *Client) SetTokenTTLBuffer(d time.Duration) {
	c.ttlBuffer = d
}

// ReserveSlot places a temporary hold on a doctor's slot.
func (c *Client) ReserveSlot(ctx context.Context, hospitalCode string, req ReserveSlotRequest) (*ReserveSlotResponse, error) {
	var out ReserveSlotResponse
	if err := c.call(ctx, hospitalCode, "reserve_slot", http.MethodPost, "/appointment-reservations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseSlot releases a previously reserved slot hold.
func (c *Client) ReleaseSlot(ctx context.Context, hospitalCode string, reservationID int64) error {
	path := "/appointment-reservations/" + strconv.FormatInt(reservationID, 10)
	return c.call(ctx, hospitalCode, "release_slot", http.MethodDelete, path, nil, nil)
}

// CreateAppointment confirms a held slot into a hospital-side appointment.
func (c *Client) CreateAppointment(ctx context.Context, hospitalCode string, req CreateAppointmentRequest) (*CreateAppointmentResponse, error) {
	var out CreateAppointmentResponse
	if err := c.call(ctx, hospitalCode, "create_appointment", http.MethodPost, "/appointments", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RescheduleAppointment moves a hospital-side appointment to a new slot.
func (c *Client) RescheduleAppointment(ctx context.Context, hospitalCode, appointmentID string, req RescheduleRequest) (*RescheduleResponse, error) {
	var out RescheduleResponse
	if err := c.call(ctx, hospitalCode, "reschedule_appointment", http.MethodPut, "/appointments/"+appointmentID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAppointment cancels a hospital-side appointment.
func (c *Client) CancelAppointment(ctx context.Context, hospitalCode, appointmentID string) error {
	return c.call(ctx, hospitalCode, "cancel_appointment", http.MethodDelete, "/appointments/"+appointmentID, nil, nil)
}

// call resolves connection options and a token, performs the request, and on
// an auth failure refreshes the token once and retries once.
func (c *Client) call(ctx context.Context, hospitalCode, op, method, path string, body, out any) error {
	ctx, span := gatewayTracer.Start(ctx, "hospital."+op)
	defer span.End()
	span.SetAttributes(attribute.String("hospital.code", hospitalCode))

	opts, err := c.directory.Get(ctx, hospitalCode)
	if err != nil {
		return err
	}

	token, err := c.tokens.Token(ctx, hospitalCode)
	if err != nil {
		return err
	}
	if token == "" {
		if token, err = c.authenticate(ctx, opts); err != nil {
			return err
		}
	}

	err = c.doOnce(ctx, opts, token, op, method, path, body, out)
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.AuthFailure() {
		c.logger.Info("hospital: token rejected, refreshing once",
			"hospital_code", hospitalCode, "op", op)
		_ = c.tokens.DropToken(ctx, hospitalCode)
		token, aerr := c.authenticate(ctx, opts)
		if aerr != nil {
			return aerr
		}
		return c.doOnce(ctx, opts, token, op, method, path, body, out)
	}
	return err
}

// authenticate fetches a fresh token and persists it in the token store.
func (c *Client) authenticate(ctx context.Context, opts *Hospital) (string, error) {
	payload := map[string]string{
		"username": opts.Username,
		"password": opts.Password,
	}
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := c.doOnce(ctx, opts, "", "token", http.MethodPost, "/token", payload, &resp); err != nil {
		return "", fmt.Errorf("hospital: authenticate %s: %w", opts.Code, err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("hospital: authenticate %s: empty token in response", opts.Code)
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if c.ttlBuffer > 0 && ttl > 2*c.ttlBuffer {
		ttl -= c.ttlBuffer
	}
	if err := c.tokens.SaveToken(ctx, opts.Code, resp.Token, ttl); err != nil {
		// A cache miss next call just re-authenticates.
		c.logger.Error("hospital: persist token failed", "hospital_code", opts.Code, "error", err)
	}
	return resp.Token, nil
}

// doOnce performs one HTTP round trip. Upstream failures are reported as
// *UpstreamError; the booking systems signal failure via an ERROR_MSG field
// even on HTTP 200, so every response body is inspected for it.
func (c *Client) doOnce(ctx context.Context, opts *Hospital, token, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("hospital: %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, opts.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("hospital: %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hospital: %s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("hospital: %s: read response: %w", op, err)
	}

	var envelope struct {
		ErrorMsg string `json:"ERROR_MSG"`
	}
	if len(raw) > 0 {
		// Tolerate non-JSON error bodies; they surface below via status code.
		_ = json.Unmarshal(raw, &envelope)
	}
	if envelope.ErrorMsg != "" {
		return &UpstreamError{Op: op, Message: envelope.ErrorMsg, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: op, Message: string(raw), StatusCode: resp.StatusCode}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("hospital: %s: decode response: %w", op, err)
		}
	}
	return nil
}
