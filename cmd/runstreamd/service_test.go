package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceInMemory(t *testing.T) {
	dir := t.TempDir()
	schema := filepath.Join(dir, "messages.json")
	require.NoError(t, os.WriteFile(schema, []byte(`{"type":"object","required":["content"]}`), 0o600))

	cfg := defaultConfig()
	cfg.Schemas = map[string]string{"messages": schema}
	svc, err := newService(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.close(context.Background()) })

	ts := httptest.NewServer(svc.handler)
	t.Cleanup(ts.Close)

	post := func(path, body string) int {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusCreated, post("/runs", `{"run_id":"r1"}`))
	assert.Equal(t, http.StatusBadRequest, post("/runs/r1/events", `{"type":"messages","payload":{"role":"user"}}`))
	assert.Equal(t, http.StatusAccepted, post("/runs/r1/events", `{"type":"messages","payload":{"content":"hi"}}`))

	resp, err := http.Get(ts.URL + "/info")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServiceRejectsMissingSchema(t *testing.T) {
	cfg := defaultConfig()
	cfg.Schemas = map[string]string{"messages": filepath.Join(t.TempDir(), "missing.json")}
	_, err := newService(context.Background(), cfg)
	require.Error(t, err)
}

func TestSkipStreams(t *testing.T) {
	var hit string
	wrapped := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hit = "wrapped" })
	plain := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hit = "plain" })
	h := skipStreams(wrapped, plain)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/runs/r/stream", nil))
	assert.Equal(t, "plain", hit)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/runs/r/events", nil))
	assert.Equal(t, "wrapped", hit)
}
