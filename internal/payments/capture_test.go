package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/capture", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key-1", user)
		assert.Equal(t, "secret-1", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(CaptureResult{
			TransactionNo: "TXN-1",
			Status:        "CAPTURED",
			AmountMinor:   50000,
			Reference:     "REF-9",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Key: "key-1", Secret: "secret-1"}, nil)
	result, err := c.Capture(context.Background(), "TXN-1", 50000)
	require.NoError(t, err)

	assert.Equal(t, "TXN-1", got["transactionNo"])
	assert.Equal(t, float64(50000), got["amount"])
	assert.Equal(t, "CAPTURED", result.Status)
	assert.Equal(t, "REF-9", result.Reference)
}

func TestCaptureGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "already captured", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.Capture(context.Background(), "TXN-1", 100)
	assert.Error(t, err)
}

func TestCaptureRequiresTransaction(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://localhost"}, nil)
	_, err := c.Capture(context.Background(), "", 100)
	assert.Error(t, err)
}
