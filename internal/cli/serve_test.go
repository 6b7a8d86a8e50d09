package cli

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/consensus-memory/internal/config"
	"github.com/rcliao/consensus-memory/internal/metrics"
	"github.com/rcliao/consensus-memory/internal/notify"
)

func TestMetricsMux(t *testing.T) {
	m := metrics.New()
	m.Write("applied")

	srv := httptest.NewServer(metricsMux(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `consensus_writes_total{outcome="applied"} 1`)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))
}

func TestBuildNotifier(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.Notify.Type = "none"
	n, closeFn, err := buildNotifier(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, notify.Nop{}, n)
	closeFn()

	cfg.Notify.Type = "log"
	n, closeFn, err = buildNotifier(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &notify.LogNotifier{}, n)
	closeFn()

	cfg.Notify.Type = "carrier-pigeon"
	_, _, err = buildNotifier(ctx, cfg, nil)
	assert.Error(t, err)
}
