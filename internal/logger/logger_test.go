package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestRoundTripper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	req, err := http.NewRequestWithContext(logger.WithContext(t.Context()), http.MethodGet, srv.URL+"/api/problems?page=2", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := NewRoundTripper(nil).RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/api/problems", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.NotContains(t, buf.String(), "secret-token")
	assert.NotContains(t, buf.String(), "request_headers")
}

func TestRoundTripper_WithHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "sid=abc123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	req, err := http.NewRequestWithContext(logger.WithContext(t.Context()), http.MethodGet, srv.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-2")
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := NewRoundTripper(nil, WithHeaders()).RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	var entry struct {
		RequestHeaders  map[string]string `json:"request_headers"`
		ResponseHeaders map[string]string `json:"response_headers"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[redacted]", entry.RequestHeaders["Authorization"])
	assert.Equal(t, "req-2", entry.RequestHeaders["X-Request-Id"])
	assert.Equal(t, "application/json", entry.ResponseHeaders["Content-Type"])
	assert.Equal(t, "[redacted]", entry.ResponseHeaders["Set-Cookie"])
	assert.NotContains(t, buf.String(), "secret-token")
	assert.NotContains(t, buf.String(), "abc123")
}

func TestRoundTripper_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	req, err := http.NewRequestWithContext(logger.WithContext(t.Context()), http.MethodPost, "http://example.invalid/api/auth/login", nil)
	require.NoError(t, err)

	_, err = NewRoundTripper(failingTransport{}).RoundTrip(req)
	require.Error(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "connection refused", entry["error"])
	assert.Equal(t, "/api/auth/login", entry["path"])
}

func TestSetup(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	assert.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}
