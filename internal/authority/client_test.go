package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testClient(url string) *Client {
	return New(Config{BaseURL: url, Version: "1.2.0", RetryDelay: time.Millisecond, Timeout: 2 * time.Second})
}

func TestDashboardVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathDashboardVersion, r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "MuaTool Dashboard v1.2.0", r.Header.Get("User-Agent"))
		writeJSON(w, http.StatusOK, map[string]any{"blocked": []string{"1.0.0"}, "downloadUrl": "https://muatool.com/download"})
	}))
	defer srv.Close()

	info, err := testClient(srv.URL).DashboardVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, info.Blocked)
	assert.Equal(t, "https://muatool.com/download", info.DownloadURL)
}

func TestCheckUserVersionBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1.2.0", body["userVersion"])
		assert.Equal(t, "dashboard_client", body["token"])
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "updateRequired": true, "requiredVersion": "1.3.0", "allowSkip": true})
	}))
	defer srv.Close()

	compat, err := testClient(srv.URL).CheckUserVersion(context.Background(), "1.2.0")
	require.NoError(t, err)
	assert.True(t, compat.UpdateRequired)
	assert.Equal(t, "1.3.0", compat.RequiredVersion)
	assert.True(t, compat.AllowSkip)
}

func TestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	out, err := testClient(srv.URL).ValidateTokenDevice(context.Background(), "tok", map[string]any{"hostname": "h"})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, int32(3), hits.Load())
}

func TestGivesUpAfterAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).DashboardVersion(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.Equal(t, int32(3), hits.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "bad token"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ValidateTokenDevice(context.Background(), "tok", nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(srv.URL).DashboardVersion(ctx)
	assert.Error(t, err)
}
