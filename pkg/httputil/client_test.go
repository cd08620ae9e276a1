package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/pkg/logger"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Enabled: true}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.True(t, cfg.Enabled)
}

func TestDoJSON_RetriesAndReplaysBody(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"q":"momentum"}`, string(body))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer server.Close()

	client := New(logger.NewNop(), time.Second).WithRetry(fastRetry()).WithHeader("X-Key", "secret")

	var out map[string]string
	err := client.DoJSON(context.Background(), http.MethodPost, server.URL, map[string]string{"q": "momentum"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoJSON_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(logger.NewNop(), time.Second).WithRetry(fastRetry())
	err := client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestDisableRetry_FailsFast(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(logger.NewNop(), time.Second).DisableRetry()
	err := client.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.code), "status %d", tt.code)
	}
}
